package api

import (
	"net/http"

	"tablevault/core"
	"tablevault/service"

	"github.com/gorilla/mux"
)

// attachmentInput is a file already stored by the upload endpoint.
type attachmentInput struct {
	FieldName    string `json:"field_name" validate:"required"`
	URL          string `json:"url"`
	ContentID    string `json:"content_id"`
	OriginalName string `json:"original_name"`
	StoragePath  string `json:"storage_path"`
}

// rowRequest is the body of a row insert or update.
type rowRequest struct {
	Values      map[string]interface{} `json:"values"`
	Attachments []attachmentInput      `json:"attachments" validate:"omitempty,dive"`
}

func (in rowRequest) write() service.RowWrite {
	out := service.RowWrite{Values: in.Values}
	if out.Values == nil {
		out.Values = map[string]interface{}{}
	}
	for _, att := range in.Attachments {
		out.Uploads = append(out.Uploads, core.AttachmentUpload{
			FieldName: att.FieldName,
			Attachment: core.Attachment{
				URL:          att.URL,
				ContentID:    att.ContentID,
				OriginalName: att.OriginalName,
				StoragePath:  att.StoragePath,
			},
		})
	}
	return out
}

// listRows returns one page of rows.
func (a *API) listRows(w http.ResponseWriter, r *http.Request) {
	p := ParsePaginationParams(r)
	id, req := a.request(r)
	page, err := a.rows.ListRows(r.Context(), mux.Vars(r)["id"], id, req, p.Page, p.Limit)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	a.respondData(w, http.StatusOK, page, "")
}

func (a *API) insertRow(w http.ResponseWriter, r *http.Request) {
	var in rowRequest
	if !a.decodeJSONBody(w, r, &in) {
		return
	}
	id, req := a.request(r)
	row, err := a.rows.InsertRow(r.Context(), mux.Vars(r)["id"], id, req, in.write())
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	a.respondData(w, http.StatusCreated, row, "Row created")
}

func (a *API) updateRow(w http.ResponseWriter, r *http.Request) {
	var in rowRequest
	if !a.decodeJSONBody(w, r, &in) {
		return
	}
	vars := mux.Vars(r)
	id, req := a.request(r)
	row, err := a.rows.UpdateRow(r.Context(), vars["id"], vars["rowId"], id, req, in.write())
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	a.respondData(w, http.StatusOK, row, "Row updated")
}

func (a *API) deleteRow(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	id, req := a.request(r)
	if err := a.rows.DeleteRow(r.Context(), vars["id"], vars["rowId"], id, req); err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	a.respondData(w, http.StatusOK, nil, "Row deleted")
}
