package dispatcher

import (
	"errors"
	"net/http"
	"net/http/httputil"
	"net/url"

	"realtime-chat-be/internal/pkg/logger"
)

// SessionAffinityHeader is set by a worker on the 101 response of an accepted
// socket.
const SessionAffinityHeader = "X-Chat-Session"

// Proxy forwards each incoming request, websocket upgrades included, to the
// worker chosen by the picker.
type Proxy struct {
	picker  Picker
	logger  logger.ILogger
	proxies map[string]*httputil.ReverseProxy
}

func NewProxy(pool *Pool, picker Picker, log logger.ILogger) *Proxy {
	p := &Proxy{
		picker:  picker,
		logger:  log,
		proxies: make(map[string]*httputil.ReverseProxy, len(pool.Workers())),
	}
	for _, w := range pool.Workers() {
		p.proxies[w.ID] = p.newReverseProxy(w)
	}
	return p
}

func (p *Proxy) newReverseProxy(w *Worker) *httputil.ReverseProxy {
	target := &url.URL{Scheme: "http", Host: w.Addr}
	rp := &httputil.ReverseProxy{
		Rewrite: func(pr *httputil.ProxyRequest) {
			pr.SetURL(target)
			pr.SetXForwarded()
		},
		ModifyResponse: func(resp *http.Response) error {
			if resp.StatusCode != http.StatusSwitchingProtocols {
				return nil
			}
			if sessionId := resp.Header.Get(SessionAffinityHeader); sessionId != "" {
				p.picker.Remember(sessionId, w)
			}
			resp.Header.Add("Set-Cookie", (&http.Cookie{
				Name:     AffinityCookie,
				Value:    w.ID,
				Path:     "/",
				HttpOnly: true,
				SameSite: http.SameSiteLaxMode,
			}).String())
			return nil
		},
		ErrorHandler: func(rw http.ResponseWriter, r *http.Request, err error) {
			p.logger.Warn("Proxy", "Upstream request failed", map[string]interface{}{
				"worker_id": w.ID,
				"path":      r.URL.Path,
				"error":     err.Error(),
			})
			rw.WriteHeader(http.StatusBadGateway)
		},
	}
	return rp
}

func (p *Proxy) ServeHTTP(rw http.ResponseWriter, r *http.Request) {
	w, err := p.picker.Pick(r)
	if err != nil {
		if errors.Is(err, ErrNoWorker) {
			p.logger.Error("Proxy", "No live worker for request", map[string]interface{}{"path": r.URL.Path})
		}
		http.Error(rw, "no worker available", http.StatusServiceUnavailable)
		return
	}

	// an upgraded socket keeps ServeHTTP running until it closes
	w.active.Add(1)
	defer w.active.Add(-1)

	p.proxies[w.ID].ServeHTTP(rw, r)
}
