/*
File Name:  API.go
Copyright:  2025 Meshchat s.r.o.
Author:     Meshchat Developers

Optional localhost HTTP API for frontends that are not linked against the core.
*/

package webapi

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/meshchat/core"
)

type WebapiInstance struct {
	Backend *core.Backend

	// Router can be used to register additional API functions
	Router *mux.Router
}

// WSUpgrader is used for websocket functionality. It allows all requests.
var WSUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// allow all connections by default
		return true
	},
}

// Start starts the API. ListenAddresses is a list of IP:Ports. The read and
// write timeout may be 0 for no timeout. The API key may be uuid.Nil to
// disable it although this is not recommended for security reasons.
func Start(Backend *core.Backend, ListenAddresses []string, TimeoutRead, TimeoutWrite time.Duration, APIKey uuid.UUID) (api *WebapiInstance) {
	if len(ListenAddresses) == 0 {
		return nil
	}

	api = &WebapiInstance{
		Backend: Backend,
		Router:  mux.NewRouter(),
	}

	if APIKey != uuid.Nil {
		api.Router.Use(api.authenticateMiddleware(APIKey))
	}

	api.Router.HandleFunc("/status", api.apiStatus).Methods("GET")
	api.Router.HandleFunc("/peers", api.apiPeers).Methods("GET")
	api.Router.HandleFunc("/account/info", api.apiAccountInfo).Methods("GET")
	api.Router.HandleFunc("/chat/broadcast", api.apiChatBroadcast).Methods("POST")
	api.Router.HandleFunc("/chat/unicast", api.apiChatUnicast).Methods("POST")
	api.Router.HandleFunc("/favorites", api.apiFavoritesList).Methods("GET")
	api.Router.HandleFunc("/favorites/add", api.apiFavoritesAdd).Methods("POST")
	api.Router.HandleFunc("/favorites/remove", api.apiFavoritesRemove).Methods("POST")
	api.Router.HandleFunc("/console", api.apiConsole).Methods("GET")

	for _, listen := range ListenAddresses {
		go startWebAPI(Backend, listen, api.Router, TimeoutRead, TimeoutWrite)
	}

	return api
}

// startWebAPI starts a web-server with given parameters and logs the status.
// It may block forever and only returns if there is an error.
func startWebAPI(Backend *core.Backend, WebListen string, Handler http.Handler, ReadTimeout, WriteTimeout time.Duration) {
	Backend.LogError("startWebAPI", "start API at '%s'", WebListen)

	server := &http.Server{
		Addr:         WebListen,
		Handler:      Handler,
		ReadTimeout:  ReadTimeout,
		WriteTimeout: WriteTimeout,
	}

	if err := server.ListenAndServe(); err != nil {
		Backend.LogError("startWebAPI", "listening on '%s': %v", WebListen, err)
	}
}

// authenticateMiddleware rejects requests without the API key in the "x-api-key" header.
func (api *WebapiInstance) authenticateMiddleware(APIKey uuid.UUID) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key, err := uuid.Parse(r.Header.Get("x-api-key"))
			if err != nil || key != APIKey {
				http.Error(w, "", http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// EncodeJSON encodes the data as JSON response.
func EncodeJSON(backend *core.Backend, w http.ResponseWriter, r *http.Request, data interface{}) (err error) {
	w.Header().Set("Content-Type", "application/json")
	if err = json.NewEncoder(w).Encode(data); err != nil {
		backend.LogError("EncodeJSON", "encoding response for '%s': %v", r.URL.Path, err)
	}
	return err
}

// DecodeJSON decodes the request body as JSON.
func DecodeJSON(w http.ResponseWriter, r *http.Request, data interface{}) (err error) {
	if err = json.NewDecoder(r.Body).Decode(data); err != nil {
		http.Error(w, "", http.StatusBadRequest)
	}
	return err
}
