package store

import (
	"context"
	"errors"

	"process-calendar-api/internal/model"
)

// Preferences returns the stored settings, or the defaults if the user
// never saved any.
func (s *Store) Preferences(ctx context.Context, userID string) (model.Preferences, error) {
	p := model.Preferences{UserID: userID}
	err := s.pool.QueryRow(ctx,
		`SELECT timezone, theme, language, email_notifications, push_notifications,
		        reminder_minutes, updated_at
		 FROM user_preferences WHERE user_id = $1`, userID,
	).Scan(&p.Timezone, &p.Theme, &p.Language, &p.EmailNotifications,
		&p.PushNotifications, &p.ReminderMinutes, &p.UpdatedAt)
	if err != nil {
		if err = mapErr(err); errors.Is(err, ErrNotFound) {
			return model.DefaultPreferences(userID), nil
		}
		return p, err
	}
	return p, nil
}

func (s *Store) SavePreferences(ctx context.Context, p *model.Preferences) error {
	return mapErr(s.pool.QueryRow(ctx,
		`INSERT INTO user_preferences
		   (user_id, timezone, theme, language, email_notifications, push_notifications, reminder_minutes)
		 VALUES ($1,$2,$3,$4,$5,$6,$7)
		 ON CONFLICT (user_id) DO UPDATE SET
		   timezone = EXCLUDED.timezone,
		   theme = EXCLUDED.theme,
		   language = EXCLUDED.language,
		   email_notifications = EXCLUDED.email_notifications,
		   push_notifications = EXCLUDED.push_notifications,
		   reminder_minutes = EXCLUDED.reminder_minutes,
		   updated_at = NOW()
		 RETURNING updated_at`,
		p.UserID, p.Timezone, p.Theme, p.Language, p.EmailNotifications,
		p.PushNotifications, p.ReminderMinutes,
	).Scan(&p.UpdatedAt))
}
