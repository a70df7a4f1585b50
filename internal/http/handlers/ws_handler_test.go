package handlers

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-realtime-chat/internal/http/middleware"
	"github.com/tbourn/go-realtime-chat/internal/realtime"
)

type fakeAuth struct{ err error }

func (f fakeAuth) Authorize(context.Context, string, string) error { return f.err }

type fakeUpgrader struct {
	calls        int
	user, convID string
}

func (f *fakeUpgrader) Upgrade(_ http.ResponseWriter, _ *http.Request, userID, conversationID string) (*realtime.Client, error) {
	f.calls++
	f.user, f.convID = userID, conversationID
	return nil, nil
}

func wsRouter(h *RealtimeHandler) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(middleware.RequestID())
	r.GET("/ws", h.Connect)
	return r
}

func TestConnect_RejectsBeforeUpgrade(t *testing.T) {
	cases := []struct {
		err    error
		status int
		code   string
	}{
		{realtime.ErrMissingParams, http.StatusBadRequest, ErrCodeBadRequest},
		{realtime.ErrUnknownUser, http.StatusUnauthorized, ErrCodeUnauthorized},
		{realtime.ErrUnknownConversation, http.StatusNotFound, ErrCodeNotFound},
		{realtime.ErrNotParticipant, http.StatusForbidden, ErrCodeForbidden},
		{errors.New("db down"), http.StatusInternalServerError, ErrCodeInternal},
	}
	for _, tc := range cases {
		t.Run(tc.err.Error(), func(t *testing.T) {
			up := &fakeUpgrader{}
			r := wsRouter(NewRealtimeHandler(fakeAuth{err: tc.err}, up))

			w := do(r, http.MethodGet, "/ws?userId=u&conversationId=c", "", nil)
			if w.Code != tc.status || errCode(t, w) != tc.code {
				t.Fatalf("status=%d body=%s; want %d %s", w.Code, w.Body.String(), tc.status, tc.code)
			}
			if up.calls != 0 {
				t.Fatalf("rejected handshake must not upgrade")
			}
		})
	}
}

func TestConnect_UpgradesAuthorizedCaller(t *testing.T) {
	up := &fakeUpgrader{}
	r := wsRouter(NewRealtimeHandler(fakeAuth{}, up))

	w := do(r, http.MethodGet, "/ws?userId=u-1&conversationId=c-1", "", nil)
	if w.Code >= http.StatusBadRequest {
		t.Fatalf("status = %d", w.Code)
	}
	if up.calls != 1 || up.user != "u-1" || up.convID != "c-1" {
		t.Fatalf("upgrade call: %+v", up)
	}
}
