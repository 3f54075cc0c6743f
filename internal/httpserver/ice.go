package httpserver

import (
	"net/http"
	"strings"

	"github.com/pion/webrtc/v4"
)

// handleICEServers hands browser clients the ICE server list. When TURN REST
// is enabled, ephemeral credentials are minted per request and injected into
// every TURN entry.
func (s *Server) handleICEServers(w http.ResponseWriter, r *http.Request) {
	servers := s.cfg.ICEServers
	resp := map[string]any{}

	if s.opts.TURNREST != nil {
		creds, err := s.opts.TURNREST.GenerateRandom()
		if err != nil {
			s.log.Error("mint turn rest credentials", "err", err)
			WriteJSON(w, http.StatusInternalServerError, map[string]any{"error": "failed to mint TURN credentials"})
			return
		}
		servers = withTURNRESTCredentials(servers, creds.Username, creds.Credential)
		resp["ttlSeconds"] = s.cfg.TURNREST.TTLSeconds
	}

	if servers == nil {
		servers = []webrtc.ICEServer{}
	}
	resp["iceServers"] = servers
	WriteJSON(w, http.StatusOK, resp)
}

func withTURNRESTCredentials(servers []webrtc.ICEServer, username, credential string) []webrtc.ICEServer {
	if len(servers) == 0 {
		return servers
	}
	out := make([]webrtc.ICEServer, len(servers))
	for i, server := range servers {
		out[i] = server
		if iceServerHasTURNURL(server) {
			out[i].Username = username
			out[i].Credential = credential
		}
	}
	return out
}

func iceServerHasTURNURL(server webrtc.ICEServer) bool {
	for _, raw := range server.URLs {
		url := strings.ToLower(strings.TrimSpace(raw))
		if strings.HasPrefix(url, "turn:") || strings.HasPrefix(url, "turns:") {
			return true
		}
	}
	return false
}
