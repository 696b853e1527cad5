package main

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/websignon/ssokit/pkg/oauth2"
)

type callback struct {
	Code  string
	State string
	Err   error
}

var errCallbackTimeout = errors.New("timed out waiting for callback")

// startCallbackServer runs a loopback HTTP server for the redirect from
// the authorization server. It delivers exactly one callback (or a
// timeout) on the returned channel and then shuts down.
func startCallbackServer(address, path string, timeout time.Duration) <-chan callback {
	channel := make(chan callback)
	stopChan := make(chan *callback)

	mux := http.NewServeMux()
	mux.HandleFunc(fmt.Sprintf("GET %s", path), func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("error") != "" {
			fmt.Fprintln(w, "Login failed. You can close this window.")
			stopChan <- &callback{
				Err: &oauth2.Error{
					Code:        r.URL.Query().Get("error"),
					Description: r.URL.Query().Get("error_description"),
				},
			}
			return
		}

		code := r.URL.Query().Get("code")
		if code == "" {
			fmt.Fprintln(w, "Login failed. You can close this window.")
			stopChan <- &callback{
				Err: &oauth2.Error{
					Code:        "invalid_request",
					Description: "authorization code is missing in callback request",
				},
			}
			return
		}

		fmt.Fprintln(w, "Login complete. You can close this window.")
		stopChan <- &callback{
			Code:  code,
			State: r.URL.Query().Get("state"),
		}
	})

	server := &http.Server{
		Addr:    address,
		Handler: mux,
	}

	go func() {
		select {
		case <-time.After(timeout):
			channel <- callback{Err: errCallbackTimeout}
		case cb := <-stopChan:
			channel <- *cb
		}
		server.Close()
	}()

	slog.Info("Waiting for OAuth callback", "url", fmt.Sprintf("http://%s%s", address, path))
	go func() {
		err := server.ListenAndServe()
		if err != http.ErrServerClosed {
			channel <- callback{Err: err}
		}
	}()

	return channel
}
