package server

import (
	"bytes"
	"errors"
	"html/template"
	"net/http"
	"net/url"

	slogctx "github.com/veqryn/slog-context"

	"github.com/caseboard/session-gateway/internal/fragment"
	"github.com/caseboard/session-gateway/internal/serviceerr"
	"github.com/caseboard/session-gateway/pkg/fingerprint"
)

// relayTemplate is served on the OAuth callback route. URL fragments never
// reach a server, so the identity provider's redirect lands here and a
// small script relays window.location.hash to the completion endpoint.
// history.replaceState scrubs the fragment before the relay fires, so the
// session ID does not linger in the browser history.
const relayTemplate = `<!DOCTYPE html>
<html>
<head><meta charset="utf-8"><title>Completing sign-in</title></head>
<body>
<noscript><p>JavaScript is required to complete sign-in.</p></noscript>
<form id="relay" method="POST" action="{{.Action}}">
<input type="hidden" name="fragment" id="fragment">
</form>
<script>
(function () {
	document.getElementById("fragment").value = window.location.hash;
	history.replaceState(null, "", window.location.pathname);
	document.getElementById("relay").submit();
})();
</script>
</body>
</html>`

func renderRelayPage(callbackPath string) ([]byte, error) {
	tmpl, err := template.New("relay").Parse(relayTemplate)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, struct{ Action string }{Action: callbackPath}); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}

// handleCallbackPage serves the fragment relay.
func (s *Server) handleCallbackPage(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	_, _ = w.Write(s.relay)
}

// handleCallbackComplete consumes the relayed fragment and redeems the
// one-time session ID it carries. The latch in front of the exchange
// guarantees a given ID triggers at most one backend exchange even when
// the relay fires twice, e.g. on a double-submitted form.
func (s *Server) handleCallbackComplete(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	frag := r.PostFormValue("fragment")

	handoffID, found := fragment.SessionID(frag)
	if !found {
		// Not an OAuth redirect at all; nothing to complete.
		s.redirect(w, r, s.cfg.Gateway.LoginPath)
		return
	}

	if handoffID == "" {
		// Trigger pattern without an identifier: malformed redirect. The
		// browser is mid-navigation, so it lands back on login rather than
		// on a JSON error.
		slogctx.Warn(ctx, "Callback fragment carried no session identifier")
		s.redirectWithError(w, r, string(serviceerr.CodeMalformedRedirect))

		return
	}

	if !s.latch.Consume(handoffID) {
		// Already relayed once; the exchange either succeeded or failed,
		// and repeating it cannot help.
		slogctx.Info(ctx, "Duplicate callback relay ignored")
		s.redirect(w, r, s.cfg.Gateway.LandingPath)

		return
	}

	fp, _ := fingerprint.ExtractFingerprint(ctx)

	result, err := s.manager.ExchangeOAuthSession(ctx, handoffID, fp, s.sessionID(r))
	if err != nil {
		if errors.Is(err, serviceerr.ErrExchangeFailed) {
			s.redirectWithError(w, r, "exchange_failed")
			return
		}

		writeError(ctx, w, err)

		return
	}

	if err := s.issueCookies(ctx, w, result); err != nil {
		writeError(ctx, w, err)
		return
	}

	s.redirect(w, r, s.cfg.Gateway.LandingPath)
}

// redirect uses 303 so the POSTed relay lands on a GET.
func (s *Server) redirect(w http.ResponseWriter, r *http.Request, path string) {
	http.Redirect(w, r, path, http.StatusSeeOther)
}

func (s *Server) redirectWithError(w http.ResponseWriter, r *http.Request, reason string) {
	target := url.URL{Path: s.cfg.Gateway.LoginPath}

	q := url.Values{}
	q.Set("error", reason)
	target.RawQuery = q.Encode()

	http.Redirect(w, r, target.String(), http.StatusSeeOther)
}
