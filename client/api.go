package client

import (
	"context"
	"net/http"

	"github.com/go-resty/resty/v2"
	"github.com/pkg/errors"

	"supportchat/config"
	"supportchat/model"
	"supportchat/tools/errs"
)

// restAPI wraps the backend's REST surface for the polling channel and the
// claim coordinator. The request timeout is the (short) polling timeout and
// resty's retry budget covers transient request failures; anything beyond
// that is handed back to the caller untouched.
type restAPI struct {
	http    *resty.Client
	signals *SignalHub
}

func newRESTAPI(cfg *config.Config, token string, signals *SignalHub) *restAPI {
	c := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(cfg.PollRequestTimeout).
		SetRetryCount(cfg.PollRetryCount).
		SetAuthToken(token).
		SetHeader("Accept", "application/json")
	return &restAPI{http: c, signals: signals}
}

// checkErr translates a non-2xx response into a coded error and re-emits
// auth failures on the signal hub.
func (a *restAPI) checkErr(resp *resty.Response, err error, op string) error {
	if err != nil {
		return errors.Wrap(err, op)
	}
	if resp.IsSuccess() {
		return nil
	}
	ce := errs.Parse(resp.Body())
	if resp.StatusCode() == http.StatusUnauthorized {
		kind := AuthRejected
		if ce.Code == errs.CodeAuthExpired {
			kind = AuthExpired
		}
		a.signals.Publish(AuthSignal{Kind: kind, Reason: ce.Msg})
	}
	return errors.Wrap(ce, op)
}

func (a *restAPI) prefix(agentView bool) string {
	if agentView {
		return "/api/agent/sessions"
	}
	return "/api/chat/sessions"
}

func (a *restAPI) ActiveSession(ctx context.Context) (*model.ChatSession, error) {
	var out model.ChatSession
	resp, err := a.http.R().SetContext(ctx).SetResult(&out).Get("/api/chat/session")
	if err := a.checkErr(resp, err, "fetch active session"); err != nil {
		return nil, err
	}
	return &out, nil
}

func (a *restAPI) CreateSession(ctx context.Context) (*model.ChatSession, error) {
	var out model.ChatSession
	resp, err := a.http.R().SetContext(ctx).SetResult(&out).Post("/api/chat/session")
	if err := a.checkErr(resp, err, "create session"); err != nil {
		return nil, err
	}
	return &out, nil
}

func (a *restAPI) GetSession(ctx context.Context, sessionID string, agentView bool) (*model.ChatSession, error) {
	var out model.ChatSession
	resp, err := a.http.R().SetContext(ctx).SetResult(&out).
		Get(a.prefix(agentView) + "/" + sessionID)
	if err := a.checkErr(resp, err, "fetch session"); err != nil {
		return nil, err
	}
	return &out, nil
}

func (a *restAPI) ListMessages(ctx context.Context, sessionID string, agentView bool) ([]model.ChatMessage, error) {
	var out []model.ChatMessage
	resp, err := a.http.R().SetContext(ctx).SetResult(&out).
		Get(a.prefix(agentView) + "/" + sessionID + "/messages")
	if err := a.checkErr(resp, err, "list messages"); err != nil {
		return nil, err
	}
	return out, nil
}

func (a *restAPI) SendMessage(ctx context.Context, sessionID, body string, agentView bool) (*model.ChatMessage, error) {
	var out model.ChatMessage
	resp, err := a.http.R().SetContext(ctx).
		SetBody(map[string]string{"body": body}).
		SetResult(&out).
		Post(a.prefix(agentView) + "/" + sessionID + "/messages")
	if err := a.checkErr(resp, err, "send message"); err != nil {
		return nil, err
	}
	return &out, nil
}

func (a *restAPI) MarkRead(ctx context.Context, sessionID string, agentView bool) error {
	resp, err := a.http.R().SetContext(ctx).
		Post(a.prefix(agentView) + "/" + sessionID + "/read")
	return a.checkErr(resp, err, "mark read")
}

func (a *restAPI) CloseSession(ctx context.Context, sessionID string, agentView bool) error {
	resp, err := a.http.R().SetContext(ctx).
		Post(a.prefix(agentView) + "/" + sessionID + "/close")
	return a.checkErr(resp, err, "close session")
}

func (a *restAPI) ListSessions(ctx context.Context, status model.SessionStatus) ([]model.ChatSession, error) {
	req := a.http.R().SetContext(ctx)
	if status != "" {
		req.SetQueryParam("status", string(status))
	}
	var out []model.ChatSession
	resp, err := req.SetResult(&out).Get("/api/agent/sessions")
	if err := a.checkErr(resp, err, "list sessions"); err != nil {
		return nil, err
	}
	return out, nil
}

func (a *restAPI) ClaimSession(ctx context.Context, sessionID string, me *errs.Actor) (*model.ChatSession, error) {
	var out model.ChatSession
	resp, err := a.http.R().SetContext(ctx).
		SetBody(me).
		SetResult(&out).
		Post("/api/agent/sessions/" + sessionID + "/claim")
	if err := a.checkErr(resp, err, "claim session"); err != nil {
		return nil, err
	}
	return &out, nil
}

func (a *restAPI) ReleaseSession(ctx context.Context, sessionID string) error {
	resp, err := a.http.R().SetContext(ctx).
		Post("/api/agent/sessions/" + sessionID + "/release")
	return a.checkErr(resp, err, "release session")
}

func (a *restAPI) AssignSession(ctx context.Context, sessionID string, agent *errs.Actor) error {
	resp, err := a.http.R().SetContext(ctx).
		SetBody(agent).
		Post("/api/agent/sessions/" + sessionID + "/assign")
	return a.checkErr(resp, err, "assign session")
}
