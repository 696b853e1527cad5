package main

import (
	"log/slog"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/websignon/ssokit/pkg/sso"
	"github.com/websignon/ssokit/pkg/ssoweb"
)

var upgrader = websocket.Upgrader{}

type loginStatusMessage struct {
	Status      sso.Status `json:"status"`
	DisplayName string     `json:"display_name,omitempty"`
}

// mountLoginStatus adds a websocket endpoint pushing the login status of
// the requesting session, so a waiting page can react to the login
// finishing in another tab.
func mountLoginStatus(g *echo.Group, handler *ssoweb.Handler, sessions sso.SessionStore) {
	g.GET("/ws/login-status", func(c echo.Context) error {
		// resolve the session while the cookie can still be written
		loginSession, err := handler.CurrentSession(c)
		if err != nil {
			return err
		}

		ws, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
		if err != nil {
			return err
		}
		defer ws.Close()

		ticker := time.NewTicker(time.Second)
		defer ticker.Stop()

		for {
			message := loginStatusMessage{Status: sso.StatusAnonymous}
			if current, err := sessions.GetSession(loginSession.ID); err == nil {
				message.Status = current.Status
				if current.Status == sso.StatusAuthenticated && current.Principal != nil {
					message.DisplayName = current.Principal.DisplayName
				}
			}

			if err := ws.WriteJSON(message); err != nil {
				slog.Debug("login status client gone", "error", err)
				return nil
			}
			if message.Status == sso.StatusAuthenticated {
				return nil
			}
			<-ticker.C
		}
	})
}
