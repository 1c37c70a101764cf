package api

import (
	"net/http"

	"github.com/cuemby/scuttle/pkg/errdefs"
	"github.com/cuemby/scuttle/pkg/types"
	"github.com/go-chi/chi/v5"
)

// redactProxy strips credentials from an admin response. The worker-facing
// lease endpoint is the one place credentials leave the process.
func redactProxy(p *types.Proxy) *types.Proxy {
	if p == nil || p.Password == "" {
		return p
	}
	clean := *p
	clean.Password = ""
	return &clean
}

func redactProxies(proxies []*types.Proxy) []*types.Proxy {
	out := make([]*types.Proxy, len(proxies))
	for i, p := range proxies {
		out[i] = redactProxy(p)
	}
	return out
}

func (s *Server) handleCreateHost(w http.ResponseWriter, r *http.Request) {
	var host types.Host
	if err := decodeJSON(w, r, &host); err != nil {
		writeError(w, err)
		return
	}

	created, err := s.manager.CreateHost(&host)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (s *Server) handleListHosts(w http.ResponseWriter, r *http.Request) {
	hosts, err := s.manager.ListHosts()
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, hosts)
}

// handleGetHost resolves by id first, then by unique name, so the CLI can
// say "scuttle host get shop.example.com".
func (s *Server) handleGetHost(w http.ResponseWriter, r *http.Request) {
	ref := chi.URLParam(r, "id")
	host, err := s.manager.GetHost(ref)
	if errdefs.IsNotFound(err) {
		host, err = s.manager.GetHostByName(ref)
	}
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, host)
}

func (s *Server) handleUpdateHost(w http.ResponseWriter, r *http.Request) {
	var host types.Host
	if err := decodeJSON(w, r, &host); err != nil {
		writeError(w, err)
		return
	}
	host.ID = chi.URLParam(r, "id")

	updated, err := s.manager.UpdateHost(&host)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (s *Server) handleDeleteHost(w http.ResponseWriter, r *http.Request) {
	if err := s.manager.DeleteHost(chi.URLParam(r, "id")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleEnableHost(w http.ResponseWriter, r *http.Request) {
	host, err := s.manager.SetHostActive(chi.URLParam(r, "id"), true)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, host)
}

func (s *Server) handleDisableHost(w http.ResponseWriter, r *http.Request) {
	host, err := s.manager.SetHostActive(chi.URLParam(r, "id"), false)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, host)
}

func (s *Server) handleProxyStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.manager.ProxyStats(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleBindProxy(w http.ResponseWriter, r *http.Request) {
	var req BindProxyRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	hostID := chi.URLParam(r, "id")

	if len(req.ProxyIDs) > 0 {
		result, err := s.manager.BindProxiesBulk(hostID, req.ProxyIDs)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, result)
		return
	}
	if req.ProxyID == "" {
		badRequest(w, "proxy_id or proxy_ids is required")
		return
	}

	binding, err := s.manager.BindProxy(hostID, req.ProxyID, req.Priority)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, binding)
}

func (s *Server) handleUnbindProxy(w http.ResponseWriter, r *http.Request) {
	if err := s.manager.UnbindProxy(chi.URLParam(r, "id"), chi.URLParam(r, "proxyID")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleAcquireLease is the worker-facing proxy checkout. The lease
// carries decrypted credentials; everything else redacts them.
func (s *Server) handleAcquireLease(w http.ResponseWriter, r *http.Request) {
	lease, err := s.manager.AcquireProxy(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, lease)
}

func (s *Server) handleReleaseLease(w http.ResponseWriter, r *http.Request) {
	var outcome types.ProxyOutcome
	if err := decodeJSON(w, r, &outcome); err != nil {
		writeError(w, err)
		return
	}

	if err := s.manager.ReleaseProxy(chi.URLParam(r, "id"), outcome); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleCreateProxy(w http.ResponseWriter, r *http.Request) {
	var proxy types.Proxy
	if err := decodeJSON(w, r, &proxy); err != nil {
		writeError(w, err)
		return
	}

	created, err := s.manager.CreateProxy(&proxy)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, redactProxy(created))
}

func (s *Server) handleListProxies(w http.ResponseWriter, r *http.Request) {
	proxies, err := s.manager.ListProxies()
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, redactProxies(proxies))
}

func (s *Server) handleGetProxy(w http.ResponseWriter, r *http.Request) {
	proxy, err := s.manager.GetProxy(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, redactProxy(proxy))
}

func (s *Server) handleUpdateProxy(w http.ResponseWriter, r *http.Request) {
	var proxy types.Proxy
	if err := decodeJSON(w, r, &proxy); err != nil {
		writeError(w, err)
		return
	}
	proxy.ID = chi.URLParam(r, "id")

	updated, err := s.manager.UpdateProxy(&proxy)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, redactProxy(updated))
}

func (s *Server) handleDeleteProxy(w http.ResponseWriter, r *http.Request) {
	if err := s.manager.DeleteProxy(chi.URLParam(r, "id")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleEnableProxy(w http.ResponseWriter, r *http.Request) {
	proxy, err := s.manager.SetProxyActive(chi.URLParam(r, "id"), true)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, redactProxy(proxy))
}

func (s *Server) handleDisableProxy(w http.ResponseWriter, r *http.Request) {
	proxy, err := s.manager.SetProxyActive(chi.URLParam(r, "id"), false)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, redactProxy(proxy))
}

// handleProbeProxy runs a one-shot TCP dial against the proxy endpoint.
func (s *Server) handleProbeProxy(w http.ResponseWriter, r *http.Request) {
	probe, err := s.manager.ProbeProxy(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, probe)
}
