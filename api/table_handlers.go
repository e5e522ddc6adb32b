package api

import (
	"net/http"
	"strings"

	"tablevault/core"
	"tablevault/service"

	"github.com/gorilla/mux"
)

// listTables returns the caller's own and shared tables.
func (a *API) listTables(w http.ResponseWriter, r *http.Request) {
	id, req := a.request(r)
	list, err := a.tables.ListTables(r.Context(), id, req)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	a.respondData(w, http.StatusOK, list, "")
}

func (a *API) getTable(w http.ResponseWriter, r *http.Request) {
	id, req := a.request(r)
	t, err := a.tables.GetTable(r.Context(), mux.Vars(r)["id"], id, req)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	a.respondData(w, http.StatusOK, t, "")
}

func (a *API) createTable(w http.ResponseWriter, r *http.Request) {
	var in service.TableInput
	if !a.decodeJSONBody(w, r, &in) {
		return
	}
	id, req := a.request(r)
	t, err := a.tables.CreateTable(r.Context(), id, req, in)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	a.respondData(w, http.StatusCreated, t, "Table created")
}

func (a *API) updateTable(w http.ResponseWriter, r *http.Request) {
	var in service.TableInput
	if !a.decodeJSONBody(w, r, &in) {
		return
	}
	id, req := a.request(r)
	t, err := a.tables.UpdateTable(r.Context(), mux.Vars(r)["id"], id, req, in)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	a.respondData(w, http.StatusOK, t, "Table updated")
}

func (a *API) deleteTable(w http.ResponseWriter, r *http.Request) {
	id, req := a.request(r)
	if err := a.tables.DeleteTable(r.Context(), mux.Vars(r)["id"], id, req); err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	a.respondData(w, http.StatusOK, nil, "Table deleted")
}

// shareTable adds or replaces the grant named by the body's email.
func (a *API) shareTable(w http.ResponseWriter, r *http.Request) {
	var grant core.SharedGrant
	if !a.decodeJSONBody(w, r, &grant) {
		return
	}
	id, req := a.request(r)
	t, err := a.tables.ShareTable(r.Context(), mux.Vars(r)["id"], id, req, grant)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	a.respondData(w, http.StatusOK, t, "Table shared")
}

// revokeShare removes the grant of the email query parameter.
func (a *API) revokeShare(w http.ResponseWriter, r *http.Request) {
	email := strings.TrimSpace(r.URL.Query().Get("email"))
	if email == "" {
		a.writeError(w, r, http.StatusBadRequest, errorResponse{Message: "email is required", Field: "email"}, nil)
		return
	}
	id, req := a.request(r)
	t, err := a.tables.RevokeShare(r.Context(), mux.Vars(r)["id"], id, req, email)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	a.respondData(w, http.StatusOK, t, "Share revoked")
}
