package api

import (
	"encoding/json"
	"net/http"
)

// envelope is the single response shape every handler returns through:
// {success, data?, pagination?, message?, error?}.
type envelope struct {
	Success    bool        `json:"success"`
	Data       interface{} `json:"data,omitempty"`
	Pagination *pageInfo   `json:"pagination,omitempty"`
	Message    string      `json:"message,omitempty"`
	Error      *errorBody  `json:"error,omitempty"`
}

type pageInfo struct {
	Page  int `json:"page"`
	Limit int `json:"limit"`
	Total int `json:"total"`
}

type errorBody struct {
	Code    string      `json:"code"`
	Message string      `json:"message"`
	Details interface{} `json:"details,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, env envelope) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(env)
}

// ok writes a successful response with no pagination.
func ok(w http.ResponseWriter, data interface{}) {
	writeJSON(w, http.StatusOK, envelope{Success: true, Data: data})
}

// created writes a 201 with the created resource.
func created(w http.ResponseWriter, data interface{}) {
	writeJSON(w, http.StatusCreated, envelope{Success: true, Data: data})
}

// okMessage writes a successful response carrying only a human message,
// used by bulk operations that return a count rather than a resource.
func okMessage(w http.ResponseWriter, message string, data interface{}) {
	writeJSON(w, http.StatusOK, envelope{Success: true, Message: message, Data: data})
}

// okPage writes a successful list response with pagination metadata.
func okPage(w http.ResponseWriter, data interface{}, page, limit, total int) {
	writeJSON(w, http.StatusOK, envelope{Success: true, Data: data, Pagination: &pageInfo{Page: page, Limit: limit, Total: total}})
}
