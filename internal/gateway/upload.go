package gateway

import (
	"io"
	"mime"
	"net/http"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/rs/zerolog/log"

	"github.com/compresr/session-gateway/internal/auth"
	"github.com/compresr/session-gateway/internal/config"
	"github.com/compresr/session-gateway/internal/models"
	"github.com/compresr/session-gateway/internal/upstream"
	"github.com/compresr/session-gateway/internal/utils"
)

// handleUpload forwards a multipart "file" to the session chosen by the
// client_idx and client_type form fields.
func (g *Gateway) handleUpload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, config.MaxUploadSize)
	if err := r.ParseMultipartForm(config.DefaultBufferSize * 256); err != nil {
		g.writeError(w, "invalid multipart body", http.StatusBadRequest)
		return
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	tier := models.ParseTier(r.FormValue("client_type"))
	idx, err := strconv.Atoi(r.FormValue("client_idx"))
	if err != nil {
		g.writeError(w, "client_idx must be an integer", http.StatusBadRequest)
		return
	}
	if tier == models.TierPlus {
		plus, err := g.ledger.IsPlus(r.Context(), auth.CredentialFrom(r.Context()))
		if err != nil || !plus {
			g.writeError(w, PlusClientMessage, http.StatusForbidden)
			return
		}
	}
	handle, err := g.pool.Select(tier, idx)
	if err != nil {
		g.writeError(w, outOfRangeMessage(tier, idx, g.pool.Size(tier)), http.StatusBadRequest)
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		g.writeError(w, "file is required", http.StatusBadRequest)
		return
	}
	defer func() { _ = file.Close() }()

	info, err := handle.Session.UploadAttachment(r.Context(), upstream.FileUpload{
		Name:        header.Filename,
		ContentType: header.Header.Get("Content-Type"),
		Size:        header.Size,
		Body:        file,
	})
	if err != nil {
		log.Warn().
			Err(err).
			Str("session", handle.Session.Name()).
			Str("credential", utils.MaskKey(auth.CredentialFrom(r.Context()))).
			Msg("attachment upload failed")
		g.writeError(w, "upload failed", http.StatusBadGateway)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

// textDocumentTypes are the non-text/* media types read as plain text.
var textDocumentTypes = map[string]bool{
	"application/json":       true,
	"application/xml":        true,
	"application/x-yaml":     true,
	"application/javascript": true,
}

// handleConvertDocument turns an uploaded text document into the inline
// attachment a chat request carries in "attachments". Nothing is sent upstream.
func (g *Gateway) handleConvertDocument(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, config.MaxRequestBodySize)
	if err := r.ParseMultipartForm(config.DefaultBufferSize * 256); err != nil {
		g.writeError(w, "invalid multipart body", http.StatusBadRequest)
		return
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	file, header, err := r.FormFile("file")
	if err != nil {
		g.writeError(w, "file is required", http.StatusBadRequest)
		return
	}
	defer func() { _ = file.Close() }()

	data, err := io.ReadAll(file)
	if err != nil {
		g.writeError(w, "read file failed", http.StatusBadRequest)
		return
	}

	fileType := documentType(header.Header.Get("Content-Type"), data)
	if !isTextDocument(fileType) || !utf8.Valid(data) {
		g.writeError(w, "only text documents can be converted", http.StatusUnsupportedMediaType)
		return
	}

	writeJSON(w, http.StatusOK, upstream.Attachment{
		FileName:         header.Filename,
		FileType:         fileType,
		FileSize:         int64(len(data)),
		ExtractedContent: string(data),
	})
}

// documentType returns the declared media type, sniffing when it is missing
// or generic.
func documentType(declared string, data []byte) string {
	mt, _, err := mime.ParseMediaType(declared)
	if err != nil || mt == "" || mt == "application/octet-stream" {
		mt, _, _ = mime.ParseMediaType(http.DetectContentType(data))
	}
	return mt
}

func isTextDocument(mediaType string) bool {
	return strings.HasPrefix(mediaType, "text/") || textDocumentTypes[mediaType]
}
