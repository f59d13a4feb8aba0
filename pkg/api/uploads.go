package api

import (
	"errors"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"chatwire/pkg/auth"
	"chatwire/pkg/chaterr"
	"chatwire/pkg/logger"
	"chatwire/pkg/models"
	"chatwire/pkg/session"
	"chatwire/pkg/state"
	"chatwire/pkg/utils"
	"chatwire/pkg/validation"

	"github.com/gorilla/mux"
)

// uploadAttachments handles POST /v1/sessions/{id}/attachments. File bytes
// only ever travel over this endpoint; the socket carries descriptors. The
// upload drives the same send pipeline as a plain message, so the
// attachment batch commits atomically with its message and fans out as a
// regular new_message. Form fields: temp_id, content (optional caption),
// message_type (optional) and up to the configured number of "files" parts.
func uploadAttachments(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	id, ok := identity(w, r)
	if !ok {
		return
	}
	if !auth.Can(id.Role, auth.ActionUpload) {
		utils.JSONDomainError(w, chaterr.Forbidden("role cannot upload attachments"))
		return
	}
	sessID := mux.Vars(r)["id"]
	if sessID == "" {
		utils.JSONDomainError(w, chaterr.Validation("session id missing"))
		return
	}

	maxFiles := validation.MaxAttachments()
	perFile := validation.MaxAttachmentSize()
	// one extra MB of headroom for the form framing itself
	r.Body = http.MaxBytesReader(w, r.Body, int64(maxFiles)*perFile+1<<20)
	if err := r.ParseMultipartForm(8 << 20); err != nil {
		var maxed *http.MaxBytesError
		if errors.As(err, &maxed) {
			utils.JSONError(w, http.StatusRequestEntityTooLarge, "upload too large")
			return
		}
		utils.JSONError(w, http.StatusBadRequest, "malformed multipart form")
		return
	}
	defer func() {
		if r.MultipartForm != nil {
			_ = r.MultipartForm.RemoveAll()
		}
	}()

	files := r.MultipartForm.File["files"]
	if len(files) == 0 {
		utils.JSONDomainError(w, chaterr.Validation("no files in upload"))
		return
	}
	if len(files) > maxFiles {
		utils.JSONDomainError(w, chaterr.Newf(chaterr.CodeValidation, "too many files: %d > %d", len(files), maxFiles))
		return
	}
	for _, fh := range files {
		if fh.Size > perFile {
			utils.JSONError(w, http.StatusRequestEntityTooLarge, "file exceeds size limit: "+fh.Filename)
			return
		}
	}

	content := r.FormValue("content")
	tempID := r.FormValue("temp_id")
	msgType := r.FormValue("message_type")
	if msgType == "" {
		msgType = inferType(files)
	}

	atts := make([]models.Attachment, 0, len(files))
	for _, fh := range files {
		att := models.Attachment{
			ID:       utils.NewID(),
			FileName: filepath.Base(fh.Filename),
			FileType: fileType(fh),
			FileSize: fh.Size,
		}
		att.StorageURL = "/v1/files/" + att.ID + "/" + url.PathEscape(att.FileName)
		atts = append(atts, att)
	}
	// reject bad names, types and sizes before anything touches disk
	if err := validation.ValidateMessage(content, msgType, atts); err != nil {
		utils.JSONDomainError(w, err)
		return
	}

	var stored []string
	cleanup := func() {
		for _, p := range stored {
			_ = os.Remove(p)
		}
	}
	for i, fh := range files {
		dst := filepath.Join(state.PathsVar.Uploads, atts[i].ID)
		if err := saveUpload(fh, dst); err != nil {
			cleanup()
			logger.Error("attachment_write_failed", "session", sessID, "file", atts[i].FileName, "error", err.Error())
			utils.JSONDomainError(w, chaterr.TransientStore("attachment write failed", err))
			return
		}
		stored = append(stored, dst)
	}

	res := deps.Coord.Dispatch(session.Command{
		Kind:        session.CmdSend,
		SessionID:   sessID,
		Actor:       id,
		Content:     content,
		MessageType: msgType,
		TempID:      tempID,
		Attachments: atts,
	})
	if res.Err != nil {
		// the message never committed, so the files must not linger
		cleanup()
		utils.JSONDomainError(w, res.Err)
		return
	}

	logger.Info("attachments_uploaded", "session", sessID, "user", id.ID, "files", len(files))
	_ = utils.JSONWrite(w, http.StatusCreated, res.Message)
}

// inferType picks the message type when the form omits it: image when every
// part is an image, file otherwise.
func inferType(files []*multipart.FileHeader) string {
	for _, fh := range files {
		if !strings.HasPrefix(fileType(fh), "image/") {
			return models.TypeFile
		}
	}
	return models.TypeImage
}

// fileType resolves a part's content type from its MIME header, falling
// back to the filename extension.
func fileType(fh *multipart.FileHeader) string {
	if ct := fh.Header.Get("Content-Type"); ct != "" && ct != "application/octet-stream" {
		return ct
	}
	if ct := mime.TypeByExtension(filepath.Ext(fh.Filename)); ct != "" {
		return ct
	}
	return "application/octet-stream"
}

// saveUpload copies one part to its destination path.
func saveUpload(fh *multipart.FileHeader, dst string) error {
	src, err := fh.Open()
	if err != nil {
		return err
	}
	defer src.Close()
	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, src); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

// serveFile handles GET /v1/files/{id}/{name}, streaming a stored
// attachment. Attachment ids are unguessable, so possession of a
// descriptor URL plus a valid token grants access.
func serveFile(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	attID, name := vars["id"], vars["name"]
	if attID == "" || strings.ContainsAny(attID, "/\\") || strings.Contains(attID, "..") {
		utils.JSONError(w, http.StatusBadRequest, "bad file id")
		return
	}

	f, err := os.Open(filepath.Join(state.PathsVar.Uploads, attID))
	if err != nil {
		utils.JSONError(w, http.StatusNotFound, "file not found")
		return
	}
	defer f.Close()

	if ct := mime.TypeByExtension(filepath.Ext(name)); ct != "" {
		w.Header().Set("Content-Type", ct)
	} else {
		w.Header().Set("Content-Type", "application/octet-stream")
	}
	w.Header().Set("Content-Disposition", `inline; filename="`+filepath.Base(name)+`"`)

	st, err := f.Stat()
	if err != nil {
		utils.JSONError(w, http.StatusInternalServerError, "file stat failed")
		return
	}
	http.ServeContent(w, r, name, st.ModTime(), f)
}
