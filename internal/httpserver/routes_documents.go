package httpserver

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.mongodb.org/mongo-driver/bson"

	"github.com/iamkash/intellispec/internal/apperror"
	"github.com/iamkash/intellispec/internal/repository"
	"github.com/iamkash/intellispec/internal/tenancy"
)

func (s *Server) registerDocumentRoutes() {
	s.registry.Add(Route{Method: http.MethodGet, Pattern: "/api/documents/{type}", Policy: PolicyRequirePermission, Permission: "documents:read", Handler: s.handleListDocuments})
	s.registry.Add(Route{Method: http.MethodPost, Pattern: "/api/documents/{type}", Policy: PolicyRequirePermission, Permission: "documents:write", Handler: s.handleCreateDocument})
	s.registry.Add(Route{Method: http.MethodPost, Pattern: "/api/documents/{type}/bulk", Policy: PolicyRequirePermission, Permission: "documents:write", Handler: s.handleBulkCreateDocuments})
	s.registry.Add(Route{Method: http.MethodGet, Pattern: "/api/documents/{type}/stats", Policy: PolicyRequirePermission, Permission: "documents:read", Handler: s.handleDocumentStats})
	s.registry.Add(Route{Method: http.MethodGet, Pattern: "/api/documents/{type}/options", Policy: PolicyRequirePermission, Permission: "documents:read", Handler: s.handleDocumentOptions})
	s.registry.Add(Route{Method: http.MethodGet, Pattern: "/api/documents/{type}/distinct/{field}", Policy: PolicyRequirePermission, Permission: "documents:read", Handler: s.handleDistinctValues})
	s.registry.Add(Route{Method: http.MethodGet, Pattern: "/api/documents/{type}/{id}", Policy: PolicyRequirePermission, Permission: "documents:read", Handler: s.handleGetDocument})
	s.registry.Add(Route{Method: http.MethodPut, Pattern: "/api/documents/{type}/{id}", Policy: PolicyRequirePermission, Permission: "documents:write", Handler: s.handleUpdateDocument})
	s.registry.Add(Route{Method: http.MethodDelete, Pattern: "/api/documents/{type}/{id}", Policy: PolicyRequirePermission, Permission: "documents:delete", Handler: s.handleDeleteDocument})
}

// repo builds a tenant-scoped repository for the request. Handlers never
// touch the database any other way.
func (s *Server) repo(r *http.Request, docType string) (*repository.Repository, *tenancy.RequestContext) {
	rc := requestContext(r)
	return repository.New(s.db.Database(), docType, rc, s.trail), rc
}

// reservedQueryParams never become document filters.
var reservedQueryParams = map[string]bool{
	"page": true, "limit": true, "sort": true, "q": true, "search": true,
	"groupBy": true, "label": true, "value": true,
}

func queryFilter(r *http.Request) bson.M {
	filter := bson.M{}
	for key, values := range r.URL.Query() {
		if reservedQueryParams[key] || len(values) == 0 {
			continue
		}
		if len(values) > 1 {
			items := make([]interface{}, len(values))
			for i, v := range values {
				items[i] = v
			}
			filter[key] = bson.M{"$in": items}
			continue
		}
		filter[key] = values[0]
	}
	return filter
}

func pageOptions(r *http.Request) repository.PageOptions {
	q := r.URL.Query()
	opts := repository.PageOptions{Page: 1, Limit: 50}
	if page, err := strconv.ParseInt(q.Get("page"), 10, 64); err == nil {
		opts.Page = page
	}
	if q.Has("limit") {
		if limit, err := strconv.ParseInt(q.Get("limit"), 10, 64); err == nil {
			opts.Limit = limit
		}
	}
	if sort := q.Get("sort"); sort != "" {
		field, order := sort, 1
		if strings.HasPrefix(sort, "-") {
			field, order = sort[1:], -1
		}
		opts.Sort = bson.D{{Key: field, Value: order}}
	}
	return opts
}

func (s *Server) handleListDocuments(w http.ResponseWriter, r *http.Request) error {
	repo, _ := s.repo(r, chi.URLParam(r, "type"))

	if term := r.URL.Query().Get("q"); term != "" {
		results, err := repo.Search(r.Context(), term, repository.FindOptions{})
		if err != nil {
			return err
		}
		return writeJSON(w, http.StatusOK, map[string]interface{}{"results": results})
	}

	page, err := repo.FindWithPagination(r.Context(), queryFilter(r), pageOptions(r))
	if err != nil {
		return err
	}
	return writeJSON(w, http.StatusOK, page)
}

func (s *Server) handleGetDocument(w http.ResponseWriter, r *http.Request) error {
	repo, _ := s.repo(r, chi.URLParam(r, "type"))
	id := chi.URLParam(r, "id")
	doc, err := repo.FindByID(r.Context(), id)
	if err != nil {
		return err
	}
	if doc == nil {
		return apperror.ErrNotFound(repo.Type(), id)
	}
	return writeJSON(w, http.StatusOK, doc)
}

func (s *Server) handleCreateDocument(w http.ResponseWriter, r *http.Request) error {
	var data map[string]interface{}
	if err := decodeJSON(r, &data); err != nil {
		return err
	}

	repo, _ := s.repo(r, chi.URLParam(r, "type"))
	doc, err := repo.Create(r.Context(), data)
	if err != nil {
		return err
	}
	return writeJSON(w, http.StatusCreated, doc)
}

func (s *Server) handleBulkCreateDocuments(w http.ResponseWriter, r *http.Request) error {
	var docs []map[string]interface{}
	if err := decodeJSON(r, &docs); err != nil {
		return err
	}

	repo, _ := s.repo(r, chi.URLParam(r, "type"))
	results, err := repo.BulkCreate(r.Context(), docs)
	if err != nil {
		return err
	}
	return writeJSON(w, http.StatusCreated, map[string]interface{}{"results": results})
}

func (s *Server) handleUpdateDocument(w http.ResponseWriter, r *http.Request) error {
	var patch map[string]interface{}
	if err := decodeJSON(r, &patch); err != nil {
		return err
	}

	repo, _ := s.repo(r, chi.URLParam(r, "type"))
	doc, err := repo.Update(r.Context(), chi.URLParam(r, "id"), patch)
	if err != nil {
		return err
	}
	return writeJSON(w, http.StatusOK, doc)
}

func (s *Server) handleDeleteDocument(w http.ResponseWriter, r *http.Request) error {
	repo, _ := s.repo(r, chi.URLParam(r, "type"))
	if err := repo.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		return err
	}
	return writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (s *Server) handleDocumentStats(w http.ResponseWriter, r *http.Request) error {
	repo, _ := s.repo(r, chi.URLParam(r, "type"))

	groupField := r.URL.Query().Get("groupBy")
	stats, err := repo.GetStats(r.Context(), queryFilter(r), groupField)
	if err != nil {
		return err
	}
	return writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleDocumentOptions(w http.ResponseWriter, r *http.Request) error {
	repo, _ := s.repo(r, chi.URLParam(r, "type"))

	q := r.URL.Query()
	labelField := q.Get("label")
	valueField := q.Get("value")
	options, err := repo.GetOptions(r.Context(), bson.M{}, labelField, valueField)
	if err != nil {
		return err
	}
	return writeJSON(w, http.StatusOK, map[string]interface{}{"options": options})
}

func (s *Server) handleDistinctValues(w http.ResponseWriter, r *http.Request) error {
	field := chi.URLParam(r, "field")
	if field == "" {
		return apperror.ErrValidation("field is required", nil)
	}

	repo, _ := s.repo(r, chi.URLParam(r, "type"))
	values, err := repo.GetDistinctValues(r.Context(), field, bson.M{})
	if err != nil {
		return err
	}
	return writeJSON(w, http.StatusOK, map[string]interface{}{"values": values})
}
