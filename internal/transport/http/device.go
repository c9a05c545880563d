package http

import (
	"context"
	"net/http"

	"github.com/google/uuid"
)

// DeviceCookie identifies the browser a relay store belongs to.
const DeviceCookie = "quiz_device"

type deviceKey struct{}

// WithDevice makes sure every request carries a device id, issuing a cookie
// to browsers that have none.
func WithDevice(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		deviceID := ""
		if c, err := r.Cookie(DeviceCookie); err == nil {
			if _, err := uuid.Parse(c.Value); err == nil {
				deviceID = c.Value
			}
		}
		if deviceID == "" {
			deviceID = uuid.NewString()
			http.SetCookie(w, &http.Cookie{
				Name:     DeviceCookie,
				Value:    deviceID,
				Path:     "/",
				HttpOnly: true,
				SameSite: http.SameSiteLaxMode,
				MaxAge:   365 * 24 * 60 * 60,
			})
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), deviceKey{}, deviceID)))
	})
}

// DeviceID returns the device id attached by WithDevice.
func DeviceID(ctx context.Context) string {
	id, _ := ctx.Value(deviceKey{}).(string)
	return id
}
