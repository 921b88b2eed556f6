package qbittorrent

import (
	"context"
	"net/http"

	"github.com/sirupsen/logrus"
)

// attemptState is a step of one authenticated call
type attemptState int

const (
	stateUnauthenticated attemptState = iota
	stateAuthenticating
	stateFetching
	stateExpiredRetry
	stateDone
	stateFailed
)

func (s attemptState) String() string {
	switch s {
	case stateUnauthenticated:
		return "unauthenticated"
	case stateAuthenticating:
		return "authenticating"
	case stateFetching:
		return "fetching"
	case stateExpiredRetry:
		return "expired_retry"
	case stateDone:
		return "done"
	case stateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// attempt tracks one call through login, request and at most one re-login
type attempt struct {
	inst    Instance
	op      string
	state   attemptState
	cookie  string
	retried bool
	err     error
	path    []attemptState
}

func (a *attempt) to(next attemptState) {
	a.state = next
	a.path = append(a.path, next)
}

func (a *attempt) fail(err error) {
	a.err = err
	a.to(stateFailed)
}

// withSession runs call with a valid session cookie. A 403 invalidates the
// session, triggers exactly one re-login and exactly one retry.
func (c *Client) withSession(ctx context.Context, inst Instance, op string, call func(cookie string) (int, error)) error {
	a := &attempt{inst: inst, op: op, state: stateUnauthenticated}
	a.path = append(a.path, a.state)

	if cookie, ok := c.sessions.Get(inst.ID); ok {
		a.cookie = cookie
		a.to(stateFetching)
	}

	for {
		switch a.state {
		case stateUnauthenticated, stateExpiredRetry:
			a.to(stateAuthenticating)

		case stateAuthenticating:
			cookie, err := c.Authenticate(ctx, inst)
			if err != nil {
				a.fail(err)
				continue
			}
			a.cookie = cookie
			a.to(stateFetching)

		case stateFetching:
			status, err := call(a.cookie)
			switch {
			case err != nil:
				a.fail(err)
			case status == http.StatusForbidden && !a.retried:
				c.sessions.Invalidate(inst.ID)
				a.retried = true
				a.to(stateExpiredRetry)
			case status == http.StatusForbidden:
				a.fail(&SyncError{Instance: inst.Name, Op: op, Status: status, Retried: true, Err: ErrSessionExpired})
			case !isSuccess(status):
				a.fail(&SyncError{Instance: inst.Name, Op: op, Status: status, Retried: a.retried})
			default:
				a.to(stateDone)
			}

		case stateDone:
			c.trace(a)
			return nil

		default:
			c.trace(a)
			return a.err
		}
	}
}

func (c *Client) trace(a *attempt) {
	if !c.logger.IsLevelEnabled(logrus.TraceLevel) {
		return
	}

	steps := make([]string, len(a.path))
	for i, s := range a.path {
		steps[i] = s.String()
	}
	c.logger.WithFields(map[string]interface{}{
		"instance_id": a.inst.ID,
		"op":          a.op,
		"retried":     a.retried,
		"states":      steps,
	}).Trace("Session attempt finished")
}
