package main

import (
	"log/slog"

	"github.com/wequil/signal-relay/internal/config"
)

func logStartupSecurityWarnings(logger *slog.Logger, cfg config.Config) {
	if logger == nil {
		logger = slog.Default()
	}

	if cfg.AuthMode == config.AuthModeNone {
		logger.Warn("startup security warning: AUTH_MODE=none disables authentication (any client can join rooms)",
			"warning_code", "auth_mode_none",
			"auth_mode", cfg.AuthMode,
			"mode", cfg.Mode,
		)
	}

	if containsString(cfg.AllowedOrigins, "*") {
		logger.Warn("startup security warning: ALLOWED_ORIGINS contains '*' (allows any origin)",
			"warning_code", "allowed_origins_wildcard",
			"allowed_origins", cfg.AllowedOrigins,
			"mode", cfg.Mode,
		)
	}

	if cfg.Mode == config.ModeProd && cfg.MaxPeersPerRoom <= 0 {
		logger.Warn("startup security warning: MAX_PEERS_PER_ROOM is unset/0 (unlimited) while --mode=prod",
			"warning_code", "max_peers_per_room_unlimited_in_prod",
			"max_peers_per_room", cfg.MaxPeersPerRoom,
			"mode", cfg.Mode,
		)
	}

	if cfg.Mode == config.ModeProd && cfg.MaxRooms <= 0 {
		logger.Warn("startup security warning: MAX_ROOMS is unset/0 (unlimited) while --mode=prod",
			"warning_code", "max_rooms_unlimited_in_prod",
			"max_rooms", cfg.MaxRooms,
			"mode", cfg.Mode,
		)
	}

	if len(cfg.ICEServers) == 0 {
		logger.Warn("startup warning: no ICE servers configured (clients behind NAT may fail to connect to each other)",
			"warning_code", "no_ice_servers",
			"mode", cfg.Mode,
		)
	}

	// TURN URLs without static credentials only work if TURN REST mints
	// ephemeral credentials per request.
	if !cfg.TURNREST.Enabled() && !config.HasCompleteTURNCredentials(cfg.ICEServers) {
		logger.Warn("startup warning: TURN servers configured without credentials and TURN REST is disabled (clients will fail TURN auth)",
			"warning_code", "turn_without_credentials",
			"mode", cfg.Mode,
		)
	}
}

func containsString(xs []string, v string) bool {
	for _, s := range xs {
		if s == v {
			return true
		}
	}
	return false
}
