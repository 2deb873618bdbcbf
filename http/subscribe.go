package http

import (
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"strings"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog/hlog"

	"github.com/quantonganh/bulletin"
)

const (
	confirmationMessage = "A confirmation email has been sent to %s. Click the link in the email to confirm and activate your subscription. Check your spam folder if you don't see it within a couple of minutes."
	thankyouMessage     = "Thank you for subscribing. You will receive our newsletter in your inbox."
	unsubscribeMessage  = "You have been unsubscribed and will no longer receive our newsletter."
	resubscribeMessage  = "Changed your mind? You can subscribe again at any time."
)

func (s *Server) subscribeHandler(w http.ResponseWriter, r *http.Request) error {
	var req bulletin.SubscriptionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return NewError(err, http.StatusBadRequest, "Invalid request body.")
	}
	req.Metadata = bulletin.Metadata{
		IP:        clientIP(r),
		UserAgent: r.UserAgent(),
		Referrer:  r.Referer(),
	}

	subscriber, err := s.SubscriptionService.Subscribe(r.Context(), &req)
	if err != nil {
		return err
	}

	hlog.FromRequest(r).Info().Str("email", subscriber.Email).Msg("Subscription pending confirmation")
	writeJSONResponse(w, http.StatusOK, &bulletin.SubscriptionResponse{
		Message: fmt.Sprintf(confirmationMessage, subscriber.Email),
	})

	return nil
}

func (s *Server) confirmHandler(w http.ResponseWriter, r *http.Request) error {
	if _, err := s.SubscriptionService.Confirm(r.Context(), mux.Vars(r)["token"]); err != nil {
		return err
	}

	page, err := s.Pages.Page("Subscription confirmed", thankyouMessage)
	if err != nil {
		return err
	}
	writeHTMLResponse(w, http.StatusOK, page)

	return nil
}

func (s *Server) unsubscribeHandler(w http.ResponseWriter, r *http.Request) error {
	if _, err := s.SubscriptionService.Unsubscribe(r.Context(), mux.Vars(r)["token"]); err != nil {
		return err
	}

	page, err := s.Pages.Page("Unsubscribed", unsubscribeMessage, resubscribeMessage)
	if err != nil {
		return err
	}
	writeHTMLResponse(w, http.StatusOK, page)

	return nil
}

func clientIP(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		return strings.TrimSpace(strings.Split(forwarded, ",")[0])
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
