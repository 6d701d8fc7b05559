package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/KilimcininKorOglu/netdiag/internal/dispatch"
)

// maxBodySize caps JSON request bodies.
const maxBodySize = 64 << 10

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeResponse(w, r, dispatch.Success(nil))
}

func (s *Server) handleVendor(w http.ResponseWriter, r *http.Request) {
	params := queryParams(r, "mac")
	writeResponse(w, r, s.dispatcher.Dispatch(r.Context(), dispatch.OpLookupVendor, params))
}

func (s *Server) handleCheckPort(w http.ResponseWriter, r *http.Request) {
	params := queryParams(r, "host", "ip", "port")
	writeResponse(w, r, s.dispatcher.Dispatch(r.Context(), dispatch.OpCheckPort, params))
}

func (s *Server) handlePing(w http.ResponseWriter, r *http.Request) {
	params := dispatch.Params{}
	body := http.MaxBytesReader(w, r.Body, maxBodySize)
	if err := json.NewDecoder(body).Decode(&params); err != nil && !errors.Is(err, io.EOF) {
		writeResponse(w, r, dispatch.Failure(dispatch.KindValidation, dispatch.CodeInvalidInput, "request body must be a JSON object"))
		return
	}
	writeResponse(w, r, s.dispatcher.Dispatch(r.Context(), dispatch.OpPingOnce, params))
}

// handleTraceroute streams trace output as plain text, flushing after every
// event. Validation failures are answered with a JSON envelope instead.
func (s *Server) handleTraceroute(w http.ResponseWriter, r *http.Request) {
	logger := zerolog.Ctx(r.Context())

	session, failed := s.dispatcher.TraceRoute(r.Context(), dispatch.Params{"host": r.PathValue("ip")})
	if failed != nil {
		writeResponse(w, r, *failed)
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)

	rc := http.NewResponseController(w)
	broken := false
	for ev := range session.Events() {
		if broken {
			continue
		}
		text := ev.Render()
		if text == "" {
			continue
		}
		// A client that stops reading must not stall the session.
		if err := rc.SetWriteDeadline(time.Now().Add(s.config.StreamWriteTimeout)); err != nil && !errors.Is(err, http.ErrNotSupported) {
			broken = true
			continue
		}
		if _, err := io.WriteString(w, text); err != nil {
			logger.Debug().Err(err).Msg("Trace client went away")
			broken = true
			continue
		}
		if err := rc.Flush(); err != nil && !errors.Is(err, http.ErrNotSupported) {
			broken = true
		}
	}

	logger.Info().
		Str("host", session.Host()).
		Str("state", session.State().String()).
		Int("pid", session.Pid()).
		Msg("Trace finished")
}

// queryParams copies the named query parameters that are present.
func queryParams(r *http.Request, names ...string) dispatch.Params {
	q := r.URL.Query()
	params := make(dispatch.Params, len(names))
	for _, name := range names {
		if q.Has(name) {
			params[name] = q.Get(name)
		}
	}
	return params
}

// writeResponse writes an envelope with its HTTP status.
func writeResponse(w http.ResponseWriter, r *http.Request, resp dispatch.Response) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(resp.HTTPStatus())

	if err := json.NewEncoder(w).Encode(resp); err != nil {
		zerolog.Ctx(r.Context()).Error().Err(err).Msg("Failed to encode JSON response")
	}
}
