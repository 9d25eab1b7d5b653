package live

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime"
	"net/http"
	"strconv"
	"strings"

	"github.com/joulia/joulia-live/internal/apierr"
	"github.com/joulia/joulia-live/internal/auth"
	"github.com/joulia/joulia-live/internal/livelog"
)

// handleRecipeInstanceStart holds the request until the brewhouse named in
// the body has an active recipe instance.
// POST /live/recipeInstance/start/ with brewhouse=<id>
func (s *Server) handleRecipeInstanceStart(w http.ResponseWriter, r *http.Request) {
	s.serveLongPoll(w, r, "start", s.svc.AwaitActive)
}

// handleRecipeInstanceEnd holds the request until the brewhouse named in
// the body has no active recipe instance.
// POST /live/recipeInstance/end/ with brewhouse=<id>
func (s *Server) handleRecipeInstanceEnd(w http.ResponseWriter, r *http.Request) {
	s.serveLongPoll(w, r, "end", s.svc.AwaitInactive)
}

type awaitFunc func(ctx context.Context, p auth.Principal, brewhouse int64) (RecipeInstanceState, error)

func (s *Server) serveLongPoll(w http.ResponseWriter, r *http.Request, watch string, await awaitFunc) {
	p := s.svc.Bridge().ResolveRequest(r)

	brewhouse, err := brewhouseArg(r)
	if err != nil {
		writeAPIError(w, err)
		return
	}
	livelog.Log.Info("Recipe instance watch", "watch", watch, "brewhouse", brewhouse, "principal", p.String())

	state, err := await(r.Context(), p, brewhouse)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, state)
	case errors.Is(err, ErrLongPollTimeout):
		w.WriteHeader(http.StatusNoContent)
	case r.Context().Err() != nil:
		// Client went away; nothing to write.
	default:
		writeAPIError(w, err)
	}
}

// brewhouseArg reads the brewhouse id from a form or JSON request body.
func brewhouseArg(r *http.Request) (int64, error) {
	var raw string
	mt, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mt == "application/json" {
		var body struct {
			Brewhouse json.RawMessage `json:"brewhouse"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			return 0, fmt.Errorf("decode body: %v: %w", err, apierr.ErrMalformedMessage)
		}
		raw = strings.Trim(string(body.Brewhouse), `"`)
	} else {
		raw = r.PostFormValue("brewhouse")
	}

	if raw == "" {
		return 0, fmt.Errorf("brewhouse is required: %w", apierr.ErrMalformedMessage)
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid brewhouse %q: %w", raw, apierr.ErrMalformedMessage)
	}
	return id, nil
}
