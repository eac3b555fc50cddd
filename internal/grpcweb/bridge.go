// Package grpcweb lets browsers call the gRPC services over HTTP/1.1.
package grpcweb

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/sirupsen/logrus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"process-calendar-api/internal/middleware"
)

const (
	maxFrameBytes = 1 << 20
	contentType   = "application/grpc-web+proto"
	trailerFlag   = 0x80
)

// Bridge translates gRPC-Web requests into native gRPC calls on conn.
// Message bytes are passed through untouched.
type Bridge struct {
	conn       grpc.ClientConnInterface
	origins    map[string]bool
	anyOrigin  bool
	trustProxy bool
	log        *logrus.Entry
}

func New(conn grpc.ClientConnInterface, origins []string, trustProxy bool, log *logrus.Logger) *Bridge {
	b := &Bridge{
		conn:       conn,
		origins:    make(map[string]bool, len(origins)),
		trustProxy: trustProxy,
		log:        log.WithField("component", "grpcweb"),
	}
	for _, o := range origins {
		if o == "*" {
			b.anyOrigin = true
		}
		b.origins[strings.TrimRight(o, "/")] = true
	}
	return b
}

func (b *Bridge) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if origin := r.Header.Get("Origin"); origin != "" && (b.anyOrigin || b.origins[origin]) {
		h := w.Header()
		h.Set("Access-Control-Allow-Origin", origin)
		h.Set("Access-Control-Allow-Methods", "POST, OPTIONS")
		h.Set("Access-Control-Allow-Headers", "Content-Type, X-Grpc-Web, X-User-Agent, Authorization")
		h.Set("Access-Control-Expose-Headers", "Grpc-Status, Grpc-Message")
		h.Set("Access-Control-Max-Age", "86400")
		h.Add("Vary", "Origin")
	}

	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if !strings.HasPrefix(r.Header.Get("Content-Type"), "application/grpc-web") {
		http.Error(w, "not grpc-web", http.StatusUnsupportedMediaType)
		return
	}
	b.forward(w, r)
}

func (b *Bridge) forward(w http.ResponseWriter, r *http.Request) {
	payload, err := readFrame(http.MaxBytesReader(w, r.Body, maxFrameBytes+5))
	if err != nil {
		writeError(w, codes.InvalidArgument, err.Error())
		return
	}

	// the gRPC side rate-limits by this address when the call comes
	// through the bridge
	md := metadata.Pairs("x-forwarded-for", middleware.ClientIP(r, b.trustProxy))
	if v := r.Header.Get("Authorization"); v != "" {
		md.Set("authorization", v)
	}
	ctx := metadata.NewOutgoingContext(r.Context(), md)

	resp := &rawMsg{}
	if err := b.conn.Invoke(ctx, r.URL.Path, &rawMsg{data: payload}, resp, grpc.ForceCodec(rawCodec{})); err != nil {
		st, _ := status.FromError(err)
		b.log.WithFields(logrus.Fields{"method": r.URL.Path, "code": st.Code().String()}).Debug("grpc-web call failed")
		writeError(w, st.Code(), st.Message())
		return
	}
	writeSuccess(w, resp.data)
}

// readFrame returns the message of a single data frame: a flag byte, a
// 4-byte big-endian length, then the message.
func readFrame(r io.Reader) ([]byte, error) {
	var hdr [5]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, errors.New("body too short")
	}
	if hdr[0] != 0 {
		return nil, fmt.Errorf("unsupported frame flag %#x", hdr[0])
	}
	n := binary.BigEndian.Uint32(hdr[1:])
	if n > maxFrameBytes {
		return nil, errors.New("message too large")
	}
	msg := make([]byte, n)
	if _, err := io.ReadFull(r, msg); err != nil {
		return nil, errors.New("incomplete frame")
	}
	return msg, nil
}

type rawMsg struct{ data []byte }

// rawCodec passes message bytes through without decoding them.
type rawCodec struct{}

func (rawCodec) Marshal(v any) ([]byte, error) {
	return v.(*rawMsg).data, nil
}

func (rawCodec) Unmarshal(data []byte, v any) error {
	m := v.(*rawMsg)
	m.data = append([]byte(nil), data...)
	return nil
}

func (rawCodec) Name() string { return "raw" }

func frame(flag byte, data []byte) []byte {
	f := make([]byte, 5+len(data))
	f[0] = flag
	binary.BigEndian.PutUint32(f[1:5], uint32(len(data)))
	copy(f[5:], data)
	return f
}

func writeError(w http.ResponseWriter, code codes.Code, msg string) {
	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(http.StatusOK)
	trailer := fmt.Sprintf("grpc-status:%d\r\ngrpc-message:%s\r\n", code, encodeMessage(msg))
	w.Write(frame(trailerFlag, []byte(trailer)))
}

// encodeMessage percent-encodes a status message for the grpc-message
// trailer: every byte outside printable ASCII, and '%' itself.
func encodeMessage(msg string) string {
	const hex = "0123456789ABCDEF"
	var b strings.Builder
	for i := 0; i < len(msg); i++ {
		c := msg[i]
		if c >= ' ' && c <= '~' && c != '%' {
			b.WriteByte(c)
			continue
		}
		b.WriteByte('%')
		b.WriteByte(hex[c>>4])
		b.WriteByte(hex[c&0xf])
	}
	return b.String()
}

func writeSuccess(w http.ResponseWriter, data []byte) {
	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(http.StatusOK)
	w.Write(frame(0, data))
	w.Write(frame(trailerFlag, []byte("grpc-status:0\r\n")))
}
