package gotrue

import (
	"context"
	"net/http"
	"net/url"

	session "github.com/goliatone/go-auth-session"
)

const objectMediaType = "application/vnd.pgrst.object+json"

type profileStore struct {
	client *Client
}

var _ session.ProfileStore = (*profileStore)(nil)

func (s *profileStore) Select(ctx context.Context, id string) (*session.Profile, error) {
	profile := &session.Profile{}
	err := s.client.do(ctx, request{
		method: http.MethodGet,
		url:    s.client.restURL,
		query:  url.Values{"id": {"eq." + id}, "select": {"*"}},
		bearer: s.userToken(ctx),
		header: map[string]string{"Accept": objectMediaType},
	}, profile)
	if err != nil {
		return nil, notAcceptable(err, id)
	}
	return profile, nil
}

// Insert writes with the service key when configured since the row is
// created before the identity may hold a session.
func (s *profileStore) Insert(ctx context.Context, profile session.Profile) (*session.Profile, error) {
	r := request{
		method: http.MethodPost,
		url:    s.client.restURL,
		body:   profile,
		header: map[string]string{
			"Accept": objectMediaType,
			"Prefer": "return=representation",
		},
	}
	if s.client.serviceKey != "" {
		r.apiKey = s.client.serviceKey
	} else {
		r.bearer = s.userToken(ctx)
	}

	out := &session.Profile{}
	if err := s.client.do(ctx, r, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *profileStore) Update(ctx context.Context, id string, update session.ProfileUpdate) (*session.Profile, error) {
	token := s.userToken(ctx)
	if token == "" {
		return nil, session.ErrNotAuthenticated.Clone()
	}

	out := &session.Profile{}
	err := s.client.do(ctx, request{
		method: http.MethodPatch,
		url:    s.client.restURL,
		query:  url.Values{"id": {"eq." + id}},
		body:   update,
		bearer: token,
		header: map[string]string{
			"Accept": objectMediaType,
			"Prefer": "return=representation",
		},
	}, out)
	if err != nil {
		return nil, notAcceptable(err, id)
	}
	return out, nil
}

func (s *profileStore) userToken(ctx context.Context) string {
	sess, err := s.client.activeSession(ctx)
	if err != nil || sess == nil {
		return ""
	}
	return sess.AccessToken
}

// notAcceptable maps the 406 PostgREST answers with when an object was
// requested and zero rows matched.
func notAcceptable(err error, id string) error {
	if session.IsBackendError(err) {
		if apiErr, ok := asAPIError(err); ok && apiErr.Status == http.StatusNotAcceptable {
			return session.NewError(session.ErrNotFound, "profile not found").
				WithMetadata(map[string]any{"id": id})
		}
	}
	return err
}
