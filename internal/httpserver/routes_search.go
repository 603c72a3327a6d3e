package httpserver

import (
	"net/http"
	"strings"

	"github.com/iamkash/intellispec/internal/apperror"
	"github.com/iamkash/intellispec/internal/repository"
)

func (s *Server) registerSearchRoutes() {
	s.registry.Add(Route{Method: http.MethodGet, Pattern: "/api/search/hierarchy", Policy: PolicyRequirePermission, Permission: "documents:read", Handler: s.handleHierarchySearch})
}

// maxAncestorDepth bounds the parent walk so a corrupted parentId loop
// cannot spin a request.
const maxAncestorDepth = 10

type hierarchyMatch struct {
	Document *repository.Document `json:"document"`
	Rank     int                  `json:"rank"`
	Type     string               `json:"type"`
	// Path is the ancestor id chain, root first, for tree expansion.
	Path []string `json:"path"`
}

// handleHierarchySearch searches the given types and annotates every match
// with its ancestor path so clients can expand the tree down to it.
func (s *Server) handleHierarchySearch(w http.ResponseWriter, r *http.Request) error {
	q := r.URL.Query()
	term := strings.TrimSpace(q.Get("q"))
	if term == "" {
		return apperror.ErrValidation("q query parameter is required", nil)
	}
	typesParam := strings.TrimSpace(q.Get("types"))
	if typesParam == "" {
		return apperror.ErrValidation("types query parameter is required", nil)
	}

	matches := []hierarchyMatch{}
	for _, docType := range strings.Split(typesParam, ",") {
		docType = strings.TrimSpace(docType)
		if docType == "" {
			continue
		}
		repo, _ := s.repo(r, docType)

		results, err := repo.Search(r.Context(), term, repository.FindOptions{})
		if err != nil {
			return err
		}
		for _, result := range results {
			path, err := s.ancestorPath(r, repo, result.Doc)
			if err != nil {
				return err
			}
			matches = append(matches, hierarchyMatch{
				Document: result.Doc,
				Rank:     result.Rank,
				Type:     docType,
				Path:     path,
			})
		}
	}
	return writeJSON(w, http.StatusOK, map[string]interface{}{"results": matches})
}

// ancestorPath follows parentId links upward within the same type. A
// missing parent ends the walk rather than failing the search.
func (s *Server) ancestorPath(r *http.Request, repo *repository.Repository, doc *repository.Document) ([]string, error) {
	path := []string{}
	current := doc
	for depth := 0; depth < maxAncestorDepth; depth++ {
		parentID := current.StringField("parentId")
		if parentID == "" {
			break
		}
		parent, err := repo.FindByID(r.Context(), parentID)
		if err != nil {
			return nil, err
		}
		if parent == nil {
			break
		}
		path = append([]string{parent.ID}, path...)
		current = parent
	}
	return path, nil
}
