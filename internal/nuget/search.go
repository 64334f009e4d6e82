package nuget

import (
	"strings"

	"github.com/git-pkgs/feed/internal/core"
	"github.com/git-pkgs/feed/internal/version"
)

// SearchQuery holds the parameters of a search or autocomplete request.
type SearchQuery struct {
	Query       string
	Skip        int
	Take        int
	Prerelease  bool
	AllVersions bool
}

func (q SearchQuery) window(total int) (int, int) {
	skip := q.Skip
	if skip < 0 {
		skip = 0
	}
	take := q.Take
	if take <= 0 {
		take = DefaultTake
	}
	if take > MaxTake {
		take = MaxTake
	}
	if skip > total {
		skip = total
	}
	end := skip + take
	if end > total {
		end = total
	}
	return skip, end
}

// matches reports whether the package id or title contains the query, ignoring case.
func (q SearchQuery) matches(e core.PackageInfo) bool {
	term := strings.ToLower(strings.TrimSpace(q.Query))
	if term == "" {
		return true
	}
	return strings.Contains(strings.ToLower(e.ID), term) ||
		strings.Contains(strings.ToLower(e.Title), term)
}

type group struct {
	id      string
	entries []core.PackageInfo
}

// filter applies the query and prerelease filter and groups the remaining
// versions per package id, ordered by id.
func (q SearchQuery) filter(entries []core.PackageInfo) []group {
	var groups []group
	index := make(map[string]int)
	for _, e := range sortEntries(entries) {
		if !q.Prerelease && version.IsPrerelease(e.Version) {
			continue
		}
		key := strings.ToLower(e.ID)
		i, ok := index[key]
		if !ok {
			i = len(groups)
			index[key] = i
			groups = append(groups, group{id: e.ID})
		}
		groups[i].entries = append(groups[i].entries, e)
	}

	// A package matches when any of its remaining versions matches, so the
	// title of an older version still finds the package.
	out := groups[:0]
	for _, g := range groups {
		for _, e := range g.entries {
			if q.matches(e) {
				out = append(out, g)
				break
			}
		}
	}
	return out
}

// Search builds search results. By default one result is returned per
// package, describing its latest version and listing every version; with
// AllVersions set each version of the selected packages is its own result.
// Skip, take and TotalHits always count package ids.
func (b *Builder) Search(entries []core.PackageInfo, q SearchQuery) SearchResponse {
	groups := q.filter(entries)
	start, end := q.window(len(groups))
	page := groups[start:end]

	if q.AllVersions {
		resp := SearchResponse{TotalHits: len(groups), Data: []SearchResult{}}
		for _, g := range page {
			for _, e := range g.entries {
				resp.Data = append(resp.Data, b.searchResult([]core.PackageInfo{e}, e))
			}
		}
		return resp
	}

	resp := SearchResponse{TotalHits: len(groups), Data: make([]SearchResult, 0, len(page))}
	for _, g := range page {
		latest := g.entries[len(g.entries)-1]
		resp.Data = append(resp.Data, b.searchResult(g.entries, latest))
	}
	return resp
}

func (b *Builder) searchResult(versions []core.PackageInfo, head core.PackageInfo) SearchResult {
	r := SearchResult{
		ID:           b.urls.RegistrationIndex(head.ID),
		Type:         "Package",
		Registration: b.urls.RegistrationIndex(head.ID),
		PackageID:    head.ID,
		Version:      head.Version,
		Description:  head.Description,
		Summary:      head.Summary,
		Title:        head.Title,
		Authors:      core.SplitList(head.Authors, ","),
		Tags:         head.Tags,
		LicenseURL:   head.LicenseURL,
		ProjectURL:   head.ProjectURL,
		PackageTypes: []PackageType{{Name: "Dependency"}},
		Versions:     make([]SearchVersion, 0, len(versions)),
	}
	if r.Title == "" {
		r.Title = head.ID
	}
	if r.Authors == nil {
		r.Authors = []string{}
	}
	if r.Tags == nil {
		r.Tags = []string{}
	}
	for _, v := range versions {
		r.TotalDownloads += v.DownloadCount
		r.Versions = append(r.Versions, SearchVersion{
			ID:        b.urls.RegistrationLeaf(v.ID, v.Version),
			Version:   v.Version,
			Downloads: v.DownloadCount,
		})
	}
	return r
}

// Autocomplete returns the ids of matching packages, ordered by id.
func (b *Builder) Autocomplete(entries []core.PackageInfo, q SearchQuery) AutocompleteResponse {
	groups := q.filter(entries)
	start, end := q.window(len(groups))
	resp := AutocompleteResponse{TotalHits: len(groups), Data: make([]string, 0, end-start)}
	for _, g := range groups[start:end] {
		resp.Data = append(resp.Data, g.id)
	}
	return resp
}

// AutocompleteVersions returns the versions of one package in ascending
// precedence, dropping prerelease versions unless requested.
func (b *Builder) AutocompleteVersions(versions []string, prerelease bool) AutocompleteResponse {
	sorted, _ := version.Sort(versions)
	data := make([]string, 0, len(sorted))
	for _, v := range sorted {
		if !prerelease && version.IsPrerelease(v) {
			continue
		}
		data = append(data, v)
	}
	return AutocompleteResponse{TotalHits: len(data), Data: data}
}
