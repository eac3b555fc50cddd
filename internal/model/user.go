package model

import "time"

const (
	RoleUser  = "user"
	RoleAdmin = "admin"
)

type User struct {
	ID           string    `json:"id"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	Name         string    `json:"name"`
	Role         string    `json:"role"`
	AvatarURL    string    `json:"avatarUrl"`
	Bio          string    `json:"bio"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

func (u *User) IsAdmin() bool { return u.Role == RoleAdmin }

// Preferences are per-user settings. Missing rows read as DefaultPreferences.
type Preferences struct {
	UserID             string    `json:"userId"`
	Timezone           string    `json:"timezone"`
	Theme              string    `json:"theme"`
	Language           string    `json:"language"`
	EmailNotifications bool      `json:"emailNotifications"`
	PushNotifications  bool      `json:"pushNotifications"`
	ReminderMinutes    int       `json:"reminderMinutes"`
	UpdatedAt          time.Time `json:"updatedAt"`
}

func DefaultPreferences(userID string) Preferences {
	return Preferences{
		UserID:             userID,
		Timezone:           "UTC",
		Theme:              "system",
		Language:           "en",
		EmailNotifications: true,
		PushNotifications:  true,
		ReminderMinutes:    15,
	}
}
