package handlers

import (
	"context"
	"net/http"
	"strings"

	"odisea.app/cloud/internal/translate"
)

type Translator interface {
	Translate(ctx context.Context, req translate.Request) translate.Result
}

type TranslateHandler struct {
	translator Translator
}

func NewTranslateHandler(t Translator) *TranslateHandler {
	return &TranslateHandler{translator: t}
}

type translateBody struct {
	Text       *string `json:"text"`
	TargetLang string  `json:"targetLang"`
	SourceLang string  `json:"sourceLang"`
}

// Translate answers 200 even when the provider fails; the body then carries
// the original text with success false.
func (h *TranslateHandler) Translate(w http.ResponseWriter, r *http.Request) {
	var body translateBody
	if err := decodeJSON(w, r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if body.Text == nil || strings.TrimSpace(body.TargetLang) == "" {
		writeError(w, http.StatusBadRequest, "text and targetLang are required")
		return
	}

	result := h.translator.Translate(r.Context(), translate.Request{
		Text:       *body.Text,
		TargetLang: body.TargetLang,
		SourceLang: body.SourceLang,
	})
	writeJSON(w, http.StatusOK, result)
}
