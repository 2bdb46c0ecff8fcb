package server

import (
	"bytes"
	"encoding/json"
	"encoding/xml"
	"fmt"
	"html/template"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/quantumportal/quantumportal/internal/assets"
	"github.com/quantumportal/quantumportal/internal/cache"
	"github.com/quantumportal/quantumportal/internal/content"
	"github.com/quantumportal/quantumportal/internal/quantum"
)

// alternate is one language version of the portal.
type alternate struct {
	Lang   quantum.Language
	Name   string
	Path   string
	Href   string
	Active bool
}

// pageData is the template context for the portal and privacy pages.
type pageData struct {
	Lang        quantum.Language
	Title       string
	Description string
	Canonical   string
	Locale      string
	AltLocales  []string
	Image       string
	SiteName    string
	Twitter     string
	Alternates  []alternate
	DefaultHref string

	AssetVersion string
	JSONLD       template.JS
	Year         int

	Sections        []content.Section
	RegisterIndexes []int
	Gates           []quantum.Gate

	Privacy  content.Page
	HomePath string

	catalog *content.Catalog
}

// T translates key into the page language.
func (d pageData) T(key string) string {
	return d.catalog.T(d.Lang, key)
}

// langPath returns the portal path for lang. The default language lives at /.
func langPath(lang quantum.Language) string {
	if lang == quantum.DefaultLanguage {
		return "/"
	}
	return "/" + string(lang)
}

func (s *Server) pageData(lang quantum.Language, canonicalPath string) (pageData, error) {
	catalog := s.content.Catalog()
	seo := catalog.SEO(lang)
	site := s.cfg.Site
	base := s.cfg.Server.GetBaseURL()

	d := pageData{
		Lang:         lang,
		Title:        seo.Title,
		Description:  seo.Description,
		Canonical:    base + canonicalPath,
		Locale:       seo.Locale,
		Image:        site.Image,
		SiteName:     site.Title,
		Twitter:      site.Twitter,
		DefaultHref:  base + langPath(quantum.DefaultLanguage),
		AssetVersion: s.assetVersion,
		Year:         time.Now().Year(),
		Gates:        quantum.Gates,
		HomePath:     langPath(lang),
		catalog:      catalog,
	}
	if d.Title == "" {
		d.Title = site.Title
	}
	if d.Description == "" {
		d.Description = site.Description
	}
	for i := 0; i < quantum.RegisterSize; i++ {
		d.RegisterIndexes = append(d.RegisterIndexes, i)
	}
	for _, l := range quantum.Languages {
		d.Alternates = append(d.Alternates, alternate{
			Lang:   l,
			Name:   catalog.Bundle(l).Name,
			Path:   langPath(l),
			Href:   base + langPath(l),
			Active: l == lang,
		})
		if l != lang {
			if loc := catalog.SEO(l).Locale; loc != "" && loc != d.Locale {
				d.AltLocales = append(d.AltLocales, loc)
			}
		}
	}

	ld, err := s.jsonLD(lang, d)
	if err != nil {
		return pageData{}, err
	}
	d.JSONLD = ld
	return d, nil
}

// jsonLD builds the WebSite and Organization structured data.
func (s *Server) jsonLD(lang quantum.Language, d pageData) (template.JS, error) {
	base := s.cfg.Server.GetBaseURL()
	org := map[string]any{
		"@type": "Organization",
		"@id":   base + "/#organization",
		"name":  s.cfg.Site.Author,
		"url":   base + "/",
	}
	if d.Image != "" {
		org["logo"] = d.Image
	}
	doc := map[string]any{
		"@context": "https://schema.org",
		"@graph": []map[string]any{
			{
				"@type":       "WebSite",
				"@id":         base + "/#website",
				"name":        d.SiteName,
				"url":         d.Canonical,
				"description": d.Description,
				"inLanguage":  string(lang),
				"publisher":   map[string]string{"@id": base + "/#organization"},
			},
			org,
		},
	}
	// json.Marshal escapes <, > and &, so the output is safe inside <script>.
	data, err := json.Marshal(doc)
	if err != nil {
		return "", fmt.Errorf("failed to marshal structured data: %w", err)
	}
	return template.JS(data), nil
}

func (s *Server) render(name string, data pageData) ([]byte, error) {
	var buf bytes.Buffer
	if err := s.templates.ExecuteTemplate(&buf, name, data); err != nil {
		return nil, fmt.Errorf("failed to render %s: %w", name, err)
	}
	return buf.Bytes(), nil
}

func (s *Server) portalPage(lang quantum.Language) (*cache.Entry, error) {
	return s.pages.GetOrRender("page:"+string(lang), func() ([]byte, error) {
		d, err := s.pageData(lang, langPath(lang))
		if err != nil {
			return nil, err
		}
		d.Sections = s.content.Catalog().Sections(lang)
		return s.render("page.html", d)
	})
}

func (s *Server) privacyPage(lang quantum.Language) (*cache.Entry, error) {
	return s.pages.GetOrRender("privacy:"+string(lang), func() ([]byte, error) {
		d, err := s.pageData(lang, "/privacy")
		if err != nil {
			return nil, err
		}
		d.Privacy = s.content.Catalog().Privacy(lang)
		d.Title = d.Privacy.Title + " | " + d.SiteName
		return s.render("privacy.html", d)
	})
}

// writePage sends a rendered page, answering conditional requests with 304.
func writePage(w http.ResponseWriter, r *http.Request, e *cache.Entry) {
	w.Header().Set("ETag", e.ETag)
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Add("Vary", "Cookie")
	if r.Header.Get("If-None-Match") == e.ETag {
		w.WriteHeader(http.StatusNotModified)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	if r.Method != http.MethodHead {
		_, _ = w.Write(e.Body)
	}
}

// sessionLanguage returns the language stored in the visitor's session,
// falling back to the default when no session is available.
func (s *Server) sessionLanguage(w http.ResponseWriter, r *http.Request) quantum.Language {
	sess, err := s.session(w, r)
	if err != nil {
		s.log.Warn("no session for page request", zap.Error(err))
		return quantum.DefaultLanguage
	}
	snap, err := sess.Snapshot(r.Context())
	if err != nil {
		return quantum.DefaultLanguage
	}
	return snap.UI.Language
}

func (s *Server) handleHome(w http.ResponseWriter, r *http.Request) {
	s.servePortal(w, r, s.sessionLanguage(w, r))
}

// handleLanguage serves /en, /fi and /pl and records the choice in the
// session so the live view and later visits to / use it.
func (s *Server) handleLanguage(w http.ResponseWriter, r *http.Request) {
	lang, err := quantum.ParseLanguage(mux.Vars(r)["lang"])
	if err != nil {
		http.NotFound(w, r)
		return
	}
	if sess, err := s.session(w, r); err == nil {
		if _, err := sess.Dispatch(r.Context(), quantum.SetLanguage{Language: lang}); err != nil {
			s.log.Warn("failed to store language", zap.Error(err))
		}
	} else {
		s.log.Warn("no session for page request", zap.Error(err))
	}
	s.servePortal(w, r, lang)
}

func (s *Server) servePortal(w http.ResponseWriter, r *http.Request, lang quantum.Language) {
	entry, err := s.portalPage(lang)
	if err != nil {
		s.log.Error("page render failed", zap.String("lang", string(lang)), zap.Error(err))
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}
	writePage(w, r, entry)
}

func (s *Server) handlePrivacy(w http.ResponseWriter, r *http.Request) {
	lang := s.sessionLanguage(w, r)
	entry, err := s.privacyPage(lang)
	if err != nil {
		s.log.Error("privacy render failed", zap.String("lang", string(lang)), zap.Error(err))
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}
	writePage(w, r, entry)
}

// assetHandler serves the embedded client files. Versioned URLs never change
// and may be cached forever.
func assetHandler() http.Handler {
	files := http.FileServer(http.FS(assets.ClientFS()))
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("v") != "" {
			w.Header().Set("Cache-Control", "public, max-age=31536000, immutable")
		} else {
			w.Header().Set("Cache-Control", "public, max-age=300")
		}
		files.ServeHTTP(w, r)
	})
}

func (s *Server) handleRobots(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	fmt.Fprintf(w, "User-agent: *\nAllow: /\nDisallow: /api/\nDisallow: /ws\n\nSitemap: %s/sitemap.xml\n",
		s.cfg.Server.GetBaseURL())
}

type sitemapLink struct {
	Rel      string `xml:"rel,attr"`
	Hreflang string `xml:"hreflang,attr"`
	Href     string `xml:"href,attr"`
}

type sitemapURL struct {
	Loc        string        `xml:"loc"`
	ChangeFreq string        `xml:"changefreq,omitempty"`
	Priority   string        `xml:"priority,omitempty"`
	Links      []sitemapLink `xml:"xhtml:link"`
}

type sitemapURLSet struct {
	XMLName xml.Name     `xml:"urlset"`
	Xmlns   string       `xml:"xmlns,attr"`
	XHTML   string       `xml:"xmlns:xhtml,attr"`
	URLs    []sitemapURL `xml:"url"`
}

// sitemap lists every language version of the portal with hreflang links.
func (s *Server) sitemap() sitemapURLSet {
	base := s.cfg.Server.GetBaseURL()
	var links []sitemapLink
	for _, l := range quantum.Languages {
		links = append(links, sitemapLink{Rel: "alternate", Hreflang: string(l), Href: base + langPath(l)})
	}
	links = append(links, sitemapLink{Rel: "alternate", Hreflang: "x-default", Href: base + langPath(quantum.DefaultLanguage)})

	set := sitemapURLSet{
		Xmlns: "http://www.sitemaps.org/schemas/sitemap/0.9",
		XHTML: "http://www.w3.org/1999/xhtml",
	}
	for _, l := range quantum.Languages {
		set.URLs = append(set.URLs, sitemapURL{
			Loc:        base + langPath(l),
			ChangeFreq: "monthly",
			Priority:   "1.0",
			Links:      links,
		})
	}
	set.URLs = append(set.URLs, sitemapURL{Loc: base + "/privacy", ChangeFreq: "yearly", Priority: "0.3"})
	return set
}

func (s *Server) handleSitemap(w http.ResponseWriter, r *http.Request) {
	data, err := xml.MarshalIndent(s.sitemap(), "", "  ")
	if err != nil {
		s.log.Error("sitemap marshal failed", zap.Error(err))
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/xml; charset=utf-8")
	_, _ = w.Write([]byte(xml.Header))
	_, _ = w.Write(data)
}
