package backend

import (
	"encoding/json"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/fleetpulse/core/internal/models"
)

// API serves the hub's REST surface. Every response is wrapped in the
// {status, message, data} envelope; subscription listings use the servers
// field instead of data for historical compatibility with existing consumers.
type API struct {
	db   *DB
	auth *Auth
}

func NewAPI(db *DB, auth *Auth) *API {
	return &API{db: db, auth: auth}
}

func (api *API) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/api/register", api.handleRegister)
	mux.HandleFunc("/api/login", api.handleLogin)
	mux.HandleFunc("/api/servers", api.authenticated(api.handleServers))
	mux.HandleFunc("/api/subscriptions", api.authenticated(api.handleSubscriptions))
	mux.HandleFunc("/api/subscriptions/", api.authenticated(api.handleSubscription))
	mux.HandleFunc("/api/performance-data", api.authenticated(api.handlePerformanceData))
	mux.HandleFunc("/api/alerts", api.authenticated(api.handleAlerts))
}

type handlerWithUser func(w http.ResponseWriter, r *http.Request, userID int64)

func (api *API) authenticated(next handlerWithUser) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		token := strings.TrimPrefix(header, "Bearer ")
		if token == "" || token == header {
			respondError(w, http.StatusUnauthorized, "Missing bearer token")
			return
		}
		userID, ok := api.auth.Verify(token)
		if !ok {
			respondError(w, http.StatusUnauthorized, "Invalid or expired token")
			return
		}
		next(w, r, userID)
	}
}

func (api *API) handleRegister(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		respondError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	var creds struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&creds); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if _, err := api.auth.Register(creds.Username, creds.Password); err != nil {
		log.Printf("Registration for %q failed: %v", creds.Username, err)
		respondError(w, http.StatusConflict, "Registration failed")
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"status": true, "message": "registered"})
}

func (api *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		respondError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	var creds struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&creds); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	token, userID, err := api.auth.Login(creds.Username, creds.Password)
	if err != nil {
		respondError(w, http.StatusUnauthorized, "Invalid username or password")
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"status": true,
		"data":   map[string]interface{}{"token": token, "user_id": userID},
	})
}

func (api *API) handleServers(w http.ResponseWriter, r *http.Request, userID int64) {
	if r.Method != http.MethodGet {
		respondError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	servers, err := api.db.ListServers()
	if err != nil {
		log.Printf("Error listing servers: %v", err)
		respondError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"status": true, "data": servers})
}

func (api *API) handleSubscriptions(w http.ResponseWriter, r *http.Request, userID int64) {
	switch r.Method {
	case http.MethodGet:
		subs, err := api.db.ListSubscriptions(userID)
		if err != nil {
			log.Printf("Error listing subscriptions for user %d: %v", userID, err)
			respondError(w, http.StatusInternalServerError, "Internal server error")
			return
		}
		respondJSON(w, http.StatusOK, map[string]interface{}{"status": true, "servers": subs})

	case http.MethodPost:
		var sub models.Subscription
		if err := json.NewDecoder(r.Body).Decode(&sub); err != nil {
			respondError(w, http.StatusBadRequest, "Invalid request body")
			return
		}
		sub.UserID = userID
		id, err := api.db.CreateSubscription(sub)
		if err != nil {
			log.Printf("Error creating subscription: %v", err)
			respondError(w, http.StatusConflict, "Subscription failed")
			return
		}
		sub.ID = id
		respondJSON(w, http.StatusOK, map[string]interface{}{"status": true, "data": sub})

	default:
		respondError(w, http.StatusMethodNotAllowed, "Method not allowed")
	}
}

func (api *API) handleSubscription(w http.ResponseWriter, r *http.Request, userID int64) {
	idStr := r.URL.Path[len("/api/subscriptions/"):]
	id, err := strconv.ParseInt(idStr, 10, 64)
	if err != nil {
		respondError(w, http.StatusBadRequest, "Subscription id required")
		return
	}

	switch r.Method {
	case http.MethodPut:
		var sub models.Subscription
		if err := json.NewDecoder(r.Body).Decode(&sub); err != nil {
			respondError(w, http.StatusBadRequest, "Invalid request body")
			return
		}
		sub.ID = id
		if err := api.db.UpdateSubscription(sub); err != nil {
			log.Printf("Error updating subscription %d: %v", id, err)
			respondError(w, http.StatusInternalServerError, "Internal server error")
			return
		}
		respondJSON(w, http.StatusOK, map[string]interface{}{"status": true, "message": "updated"})

	case http.MethodDelete:
		if err := api.db.DeleteSubscription(id); err != nil {
			log.Printf("Error deleting subscription %d: %v", id, err)
			respondError(w, http.StatusInternalServerError, "Internal server error")
			return
		}
		respondJSON(w, http.StatusOK, map[string]interface{}{"status": true, "message": "deleted"})

	default:
		respondError(w, http.StatusMethodNotAllowed, "Method not allowed")
	}
}

func (api *API) handlePerformanceData(w http.ResponseWriter, r *http.Request, userID int64) {
	if r.Method != http.MethodGet {
		respondError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	serverID, start, end, ok := windowParams(w, r)
	if !ok {
		return
	}

	samples, err := api.db.GetSamples(serverID, start, end)
	if err != nil {
		log.Printf("Error querying samples for server %d: %v", serverID, err)
		respondError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"status": true, "data": samples})
}

func (api *API) handleAlerts(w http.ResponseWriter, r *http.Request, userID int64) {
	if r.Method != http.MethodGet {
		respondError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	serverID, start, end, ok := windowParams(w, r)
	if !ok {
		return
	}

	alerts, err := api.db.GetAlerts(serverID, start, end)
	if err != nil {
		log.Printf("Error querying alerts for server %d: %v", serverID, err)
		respondError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"status": true, "data": alerts})
}

func windowParams(w http.ResponseWriter, r *http.Request) (int64, time.Time, time.Time, bool) {
	q := r.URL.Query()

	serverID, err := strconv.ParseInt(q.Get("server_id"), 10, 64)
	if err != nil {
		respondError(w, http.StatusBadRequest, "server_id required")
		return 0, time.Time{}, time.Time{}, false
	}

	start, err := models.ParseTimestamp(q.Get("start_time"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "start_time must be YYYY-MM-DD HH:MM:SS")
		return 0, time.Time{}, time.Time{}, false
	}
	end, err := models.ParseTimestamp(q.Get("end_time"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "end_time must be YYYY-MM-DD HH:MM:SS")
		return 0, time.Time{}, time.Time{}, false
	}
	return serverID, start, end, true
}

func respondJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Printf("Error encoding response: %v", err)
	}
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]interface{}{"status": false, "message": message})
}
