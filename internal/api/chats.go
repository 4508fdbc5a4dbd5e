package api

import (
	"encoding/json"
	"mime"
	"net/http"
	"strings"

	"github.com/google/uuid"
)

type chatRequest struct {
	Message        string `json:"message"`
	ConversationID string `json:"conversation_id"`
}

type chatResponse struct {
	Status         string `json:"status"`
	ConversationID string `json:"conversation_id"`
}

// createConversation handles POST /api/v1/conversations. A page mints one id
// on load and uses it for every prompt and its event subscription.
func (s *Server) createConversation(w http.ResponseWriter, r *http.Request) {
	id := strings.ReplaceAll(uuid.NewString(), "-", "")
	s.logger.Info("generated conversation id", "conversation_id", id)
	writeJSON(w, http.StatusCreated, map[string]string{"conversation_id": id})
}

// createChat handles POST /api/v1/chats. The turn runs in the background; the
// answer arrives on the conversation's event stream.
func (s *Server) createChat(w http.ResponseWriter, r *http.Request) {
	req, err := parseChatRequest(w, r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid request: "+err.Error())
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		writeError(w, http.StatusBadRequest, "message is required")
		return
	}
	if !conversationIDPattern.MatchString(req.ConversationID) {
		writeError(w, http.StatusBadRequest, "invalid conversation_id")
		return
	}

	if err := s.chats.Submit(r.Context(), req.Message, req.ConversationID); err != nil {
		s.logger.Error("failed to submit turn", "conversation_id", req.ConversationID, "error", err)
		writeError(w, http.StatusServiceUnavailable, "could not queue prompt")
		return
	}

	writeJSON(w, http.StatusAccepted, chatResponse{
		Status:         "accepted",
		ConversationID: req.ConversationID,
	})
}

// parseChatRequest accepts a JSON body or a plain HTML form post.
func parseChatRequest(w http.ResponseWriter, r *http.Request) (chatRequest, error) {
	var req chatRequest
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "application/json" {
		err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&req)
		return req, err
	}
	if err := r.ParseForm(); err != nil {
		return req, err
	}
	req.Message = r.PostFormValue("message")
	req.ConversationID = r.PostFormValue("conversation_id")
	return req, nil
}
