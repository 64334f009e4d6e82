package api

import (
	"errors"
	"io"
	"mime"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/git-pkgs/feed/fetch"
	"github.com/git-pkgs/feed/internal/core"
	"github.com/git-pkgs/feed/internal/nuget"
	"github.com/git-pkgs/feed/internal/service"
	"github.com/git-pkgs/feed/internal/store"
)

// API key headers, in the order they are consulted.
const (
	HeaderNuGetAPIKey = "X-NuGet-ApiKey"
	HeaderAPIKey      = "X-Api-Key"
)

// Handlers serves the feed operations over HTTP.
type Handlers struct {
	svc            *service.Service
	maxUploadBytes int64
}

// NewHandlers creates the handler set.
func NewHandlers(svc *service.Service, maxUploadBytes int64) *Handlers {
	return &Handlers{svc: svc, maxUploadBytes: maxUploadBytes}
}

func apiKey(c *gin.Context) string {
	if k := c.GetHeader(HeaderNuGetAPIKey); k != "" {
		return k
	}
	return c.GetHeader(HeaderAPIKey)
}

// Health reports dependency state; degraded feeds answer 503.
func (h *Handlers) Health(c *gin.Context) {
	health := h.svc.Health(c.Request.Context())
	status := http.StatusOK
	if !health.Healthy() {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, health)
}

func (h *Handlers) ServiceIndex(c *gin.Context) {
	c.JSON(http.StatusOK, h.svc.ServiceIndex())
}

// FlatContainer serves /v3-flatcontainer/{id}/index.json and
// /v3-flatcontainer/{id}/{version}/{file}.
func (h *Handlers) FlatContainer(c *gin.Context) {
	id := c.Param("id")
	rest := strings.Split(strings.Trim(c.Param("rest"), "/"), "/")

	switch {
	case len(rest) == 1 && rest[0] == "index.json":
		idx, err := h.svc.Versions(c.Request.Context(), id)
		if err != nil {
			fail(c, err)
			return
		}
		c.JSON(http.StatusOK, idx)

	case len(rest) == 2 && strings.EqualFold(fileExt(rest[1]), store.ArchiveExtension):
		h.serveArchive(c, id, rest[0])

	default:
		notFound(c)
	}
}

// Download serves /v3/download/{id}/{version}.
func (h *Handlers) Download(c *gin.Context) {
	h.serveArchive(c, c.Param("id"), c.Param("version"))
}

func (h *Handlers) serveArchive(c *gin.Context, id, ver string) {
	d, err := h.svc.Download(c.Request.Context(), id, ver)
	if err != nil {
		fail(c, err)
		return
	}
	defer func() { _ = d.Body.Close() }()

	c.Header("Content-Type", d.ContentType)
	c.Header("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": d.Artifact.FileName}))
	http.ServeContent(c.Writer, c.Request, d.Artifact.FileName, d.Artifact.ModTime, d.Body)
}

// Registration serves /v3/registration/{id}/index.json and
// /v3/registration/{id}/{version}.json.
func (h *Handlers) Registration(c *gin.Context) {
	id, leaf := c.Param("id"), c.Param("leaf")
	ctx := c.Request.Context()

	if leaf == "index.json" {
		reg, err := h.svc.Registration(ctx, id)
		if err != nil {
			fail(c, err)
			return
		}
		c.JSON(http.StatusOK, reg)
		return
	}

	ver, ok := strings.CutSuffix(leaf, ".json")
	if !ok || ver == "" {
		notFound(c)
		return
	}
	doc, err := h.svc.RegistrationLeaf(ctx, id, ver)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, doc)
}

func (h *Handlers) Search(c *gin.Context) {
	q, ok := searchQuery(c)
	if !ok {
		return
	}
	resp, err := h.svc.Search(c.Request.Context(), q)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// Autocomplete lists matching ids, or the versions of one package when id is given.
func (h *Handlers) Autocomplete(c *gin.Context) {
	q, ok := searchQuery(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()

	if id := c.Query("id"); id != "" {
		resp, err := h.svc.AutocompleteVersions(ctx, id, q.Prerelease)
		if err != nil {
			fail(c, err)
			return
		}
		c.JSON(http.StatusOK, resp)
		return
	}

	resp, err := h.svc.Autocomplete(ctx, q)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (h *Handlers) List(c *gin.Context) {
	resp, err := h.svc.List(c.Request.Context())
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

type publishResponse struct {
	ID      string `json:"id"`
	Version string `json:"version"`
}

// Publish accepts a multipart upload and stores its first file part.
func (h *Handlers) Publish(c *gin.Context) {
	key := apiKey(c)
	if err := h.svc.Authorize(key); err != nil {
		fail(c, err)
		return
	}

	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxUploadBytes)
	mr, err := c.Request.MultipartReader()
	if err != nil {
		badRequest(c, "expected a multipart/form-data upload")
		return
	}

	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			badRequest(c, "no package file in upload")
			return
		}
		if err != nil {
			fail(c, uploadError(err))
			return
		}
		if part.FileName() == "" {
			_ = part.Close()
			continue
		}

		body := &uploadReader{r: part}
		ident, err := h.svc.Publish(c.Request.Context(), key, body, part.FileName())
		_ = part.Close()
		if err != nil {
			if body.err != nil {
				err = uploadError(body.err)
			}
			fail(c, err)
			return
		}
		c.JSON(http.StatusCreated, publishResponse{ID: ident.ID, Version: ident.Version})
		return
	}
}

// uploadReader remembers the first error reading the request body, so a
// broken upload is told apart from a failure to store it.
type uploadReader struct {
	r   io.Reader
	err error
}

func (u *uploadReader) Read(p []byte) (int, error) {
	n, err := u.r.Read(p)
	if err != nil && !errors.Is(err, io.EOF) && u.err == nil {
		u.err = err
	}
	return n, err
}

func uploadError(err error) error {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) || statusOf(err) != http.StatusInternalServerError {
		return err
	}
	return &core.ValidationError{Field: "upload", Reason: err.Error()}
}

// Delete removes one version.
func (h *Handlers) Delete(c *gin.Context) {
	if err := h.svc.Delete(c.Request.Context(), apiKey(c), c.Param("id"), c.Param("version")); err != nil {
		fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

type purgeResponse struct {
	ID      string `json:"id"`
	Deleted int    `json:"deleted"`
}

// Purge removes every version of a package and its download counts.
func (h *Handlers) Purge(c *gin.Context) {
	id := c.Param("id")
	n, err := h.svc.Purge(c.Request.Context(), apiKey(c), id)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, purgeResponse{ID: id, Deleted: n})
}

// importRequest names the package either by id (and optional version) on
// a source, or by a Package URL.
type importRequest struct {
	Source  string `json:"source"`
	ID      string `json:"id"`
	Version string `json:"version"`
	PURL    string `json:"purl"`
}

// Import copies a package from an upstream source.
func (h *Handlers) Import(c *gin.Context) {
	key := apiKey(c)
	if err := h.svc.Authorize(key); err != nil {
		fail(c, err)
		return
	}
	var req importRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	var (
		ident core.Identity
		err   error
	)
	switch {
	case req.PURL != "":
		ident, err = h.svc.ImportPURL(c.Request.Context(), key, req.PURL)
	case req.ID != "":
		if req.Source == "" {
			req.Source = fetch.NuGetOrg
		}
		ident, err = h.svc.Import(c.Request.Context(), key, req.Source, req.ID, req.Version)
	default:
		badRequest(c, "id or purl is required")
		return
	}
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, publishResponse{ID: ident.ID, Version: ident.Version})
}

// searchQuery reads q, skip, take, prerelease and allVersions.
func searchQuery(c *gin.Context) (nuget.SearchQuery, bool) {
	q := nuget.SearchQuery{Query: c.Query("q")}
	var err error
	if q.Skip, err = intParam(c, "skip", 0); err != nil {
		badRequest(c, err.Error())
		return q, false
	}
	if q.Take, err = intParam(c, "take", nuget.DefaultTake); err != nil {
		badRequest(c, err.Error())
		return q, false
	}
	if q.Prerelease, err = boolParam(c, "prerelease"); err != nil {
		badRequest(c, err.Error())
		return q, false
	}
	if q.AllVersions, err = boolParam(c, "allVersions"); err != nil {
		badRequest(c, err.Error())
		return q, false
	}
	return q, true
}

func intParam(c *gin.Context, name string, def int) (int, error) {
	raw := c.Query(name)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, errors.New(name + " must be a non-negative integer")
	}
	return n, nil
}

func boolParam(c *gin.Context, name string) (bool, error) {
	raw := c.Query(name)
	if raw == "" {
		return false, nil
	}
	b, err := strconv.ParseBool(raw)
	if err != nil {
		return false, errors.New(name + " must be true or false")
	}
	return b, nil
}

func fileExt(name string) string {
	if i := strings.LastIndexByte(name, '.'); i >= 0 {
		return name[i:]
	}
	return ""
}
