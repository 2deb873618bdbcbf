package http

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/pkg/errors"

	"github.com/quantonganh/bulletin"
)

var subscriberStatuses = map[string]bool{
	bulletin.StatusPending:      true,
	bulletin.StatusActive:       true,
	bulletin.StatusUnsubscribed: true,
	bulletin.StatusBounced:      true,
}

func (s *Server) listSubscribersHandler(w http.ResponseWriter, r *http.Request) error {
	query := r.URL.Query()

	opts := bulletin.ListOptions{
		Status:    query.Get("status"),
		SortBy:    query.Get("sortBy"),
		SortOrder: query.Get("sortOrder"),
	}
	if opts.Status != "" && !subscriberStatuses[opts.Status] {
		return NewError(nil, http.StatusBadRequest, fmt.Sprintf("Unknown status %q.", opts.Status))
	}

	var err error
	if opts.Page, err = intParam(query.Get("page")); err != nil {
		return NewError(err, http.StatusBadRequest, "page must be a number.")
	}
	if opts.Limit, err = intParam(query.Get("limit")); err != nil {
		return NewError(err, http.StatusBadRequest, "limit must be a number.")
	}

	page, err := s.SubscriptionService.ListSubscribers(r.Context(), opts)
	if err != nil {
		return err
	}
	writeJSONResponse(w, http.StatusOK, page)

	return nil
}

func intParam(v string) (int, error) {
	if v == "" {
		return 0, nil
	}
	return strconv.Atoi(v)
}

func (s *Server) adminUnsubscribeHandler(w http.ResponseWriter, r *http.Request) error {
	subscriber, err := s.SubscriptionService.UnsubscribeByEmail(r.Context(), mux.Vars(r)["email"])
	if err != nil {
		return err
	}

	writeJSONResponse(w, http.StatusOK, &bulletin.SubscriptionResponse{
		Message: fmt.Sprintf("%s has been unsubscribed.", subscriber.Email),
	})

	return nil
}

func (s *Server) sendHandler(w http.ResponseWriter, r *http.Request) error {
	var req bulletin.SendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		return NewError(err, http.StatusBadRequest, "Invalid request body.")
	}

	report, err := s.DispatchService.Send(r.Context(), &req)
	if err != nil {
		return err
	}
	writeJSONResponse(w, http.StatusOK, report.Summary())

	return nil
}
