package core

import (
	"path"
	"strings"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// NormalizeAttachment converts a client-supplied attachment value into a
// descriptor. Strings become a URL under baseURL (or are used as-is when they
// already look like a URL); objects carrying a url are passed through with
// missing fields filled in; objects carrying only a name get a constructed URL.
func NormalizeAttachment(v interface{}, baseURL string) (Attachment, bool) {
	switch t := v.(type) {
	case Attachment:
		return fillAttachment(t, baseURL), t.URL != "" || t.OriginalName != ""
	case *Attachment:
		if t == nil {
			return Attachment{}, false
		}
		return NormalizeAttachment(*t, baseURL)
	case string:
		s := strings.TrimSpace(t)
		if s == "" {
			return Attachment{}, false
		}
		if isURL(s) {
			return fillAttachment(Attachment{URL: s}, baseURL), true
		}
		return fillAttachment(Attachment{OriginalName: path.Base(s), StoragePath: s}, baseURL), true
	}

	m, ok := asMap(v)
	if !ok {
		return Attachment{}, false
	}
	a := Attachment{
		URL:          stringField(m, "url"),
		ContentID:    stringField(m, "content_id", "contentId"),
		OriginalName: stringField(m, "original_name", "originalName", "name"),
		StoragePath:  stringField(m, "storage_path", "storagePath", "path"),
	}
	if a.URL == "" && a.OriginalName == "" {
		return Attachment{}, false
	}
	return fillAttachment(a, baseURL), true
}

// AttachmentValues resolves every ATTACHMENT field from the uploaded files and
// any attachment values present in the input. The result is merged into the
// coerced row values. On insert a required attachment field with neither an
// upload nor an input value is reported missing.
func AttachmentValues(fields []Field, input map[string]interface{}, uploads []AttachmentUpload, baseURL string, mode WriteMode) (map[string]interface{}, error) {
	var errs FieldErrors
	out := make(map[string]interface{})

	for _, f := range fields {
		if f.Type != FieldTypeAttachment {
			continue
		}

		var list []Attachment
		raw, present := input[f.Name]
		for _, item := range asList(raw) {
			a, ok := NormalizeAttachment(item, baseURL)
			if !ok {
				errs = append(errs, &ValidationError{Field: f.Name, Value: item, Code: CodeInvalidType})
				continue
			}
			list = append(list, a)
		}
		for _, up := range uploads {
			if up.FieldName == f.Name {
				list = append(list, fillAttachment(up.Attachment, baseURL))
			}
		}

		if len(list) == 0 {
			if f.Required && (mode == WriteInsert || present) {
				errs = append(errs, MissingRequiredField(f.Name))
			} else if present {
				out[f.Name] = nil
			}
			continue
		}
		out[f.Name] = attachmentsToDocs(list)
	}

	if len(errs) > 0 {
		return nil, errs
	}
	return out, nil
}

func fillAttachment(a Attachment, baseURL string) Attachment {
	if a.ContentID == "" {
		a.ContentID = uuid.New().String()
	}
	if a.OriginalName == "" && a.URL != "" {
		a.OriginalName = path.Base(a.URL)
	}
	if a.URL == "" {
		name := a.StoragePath
		if name == "" {
			name = a.OriginalName
		}
		a.URL = strings.TrimRight(baseURL, "/") + "/" + strings.TrimLeft(name, "/")
	}
	return a
}

func isURL(s string) bool {
	return strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://") || strings.HasPrefix(s, "/")
}

// attachmentsToDocs stores descriptors as plain documents so the codec can
// walk and encrypt their leaves.
func attachmentsToDocs(list []Attachment) []map[string]interface{} {
	out := make([]map[string]interface{}, len(list))
	for i, a := range list {
		out[i] = map[string]interface{}{
			"url":           a.URL,
			"content_id":    a.ContentID,
			"original_name": a.OriginalName,
			"storage_path":  a.StoragePath,
		}
	}
	return out
}

func restoreAttachments(v interface{}) interface{} {
	items := asList(v)
	out := make([]Attachment, 0, len(items))
	for _, item := range items {
		m, ok := asMap(item)
		if !ok {
			continue
		}
		out = append(out, Attachment{
			URL:          stringField(m, "url"),
			ContentID:    stringField(m, "content_id"),
			OriginalName: stringField(m, "original_name"),
			StoragePath:  stringField(m, "storage_path"),
		})
	}
	return out
}

func asList(v interface{}) []interface{} {
	switch t := v.(type) {
	case nil:
		return nil
	case []interface{}:
		return t
	case primitive.A:
		return []interface{}(t)
	case []string:
		out := make([]interface{}, len(t))
		for i, s := range t {
			out[i] = s
		}
		return out
	case []map[string]interface{}:
		out := make([]interface{}, len(t))
		for i, m := range t {
			out[i] = m
		}
		return out
	case []Attachment:
		out := make([]interface{}, len(t))
		for i, a := range t {
			out[i] = a
		}
		return out
	default:
		return []interface{}{v}
	}
}

func asMap(v interface{}) (map[string]interface{}, bool) {
	switch t := v.(type) {
	case map[string]interface{}:
		return t, true
	case primitive.M:
		return map[string]interface{}(t), true
	case primitive.D:
		return t.Map(), true
	}
	return nil, false
}

func stringField(m map[string]interface{}, keys ...string) string {
	for _, k := range keys {
		if s, ok := m[k].(string); ok && s != "" {
			return s
		}
	}
	return ""
}
