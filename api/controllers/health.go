package controllers

import (
	"net/http"

	"github.com/angelmondragon/cartsync/api/responses"
	"github.com/angelmondragon/cartsync/pkg/config"
)

func Healthz(cfg *config.Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Cartsync-Env", cfg.App.Env)
		responses.WriteSuccess(w, map[string]string{"status": "ok"})
	}
}
