package browser

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

const samplePage = `<!DOCTYPE html>
<html>
<head><title>Catalog</title></head>
<body>
	<h1 id="heading" class="page-title">Product Catalog</h1>
	<div class="item">
		<a href="/p/1" title="first">Widget</a>
		<span class="price">9.99</span>
	</div>
	<div class="item">
		<a href="/p/2">Gadget</a>
		<span class="price">19.99</span>
	</div>
	<img src="/logo.png" alt="logo">
</body>
</html>`

func serveSample(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte(samplePage))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestStaticExtract(t *testing.T) {
	srv := serveSample(t)
	f := NewStaticFetcher(5*time.Second, "")

	result, err := f.Extract(context.Background(), srv.URL, []string{"h1", ".price", "a", ".missing"})
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if !result.Success || result.TotalSelectors != 4 || result.SuccessfulExtractions != 4 {
		t.Errorf("result meta: %+v", result)
	}

	h1 := result.Data["h1"]
	if len(h1) != 1 {
		t.Fatalf("h1 matches = %d", len(h1))
	}
	if h1[0].Text != "Product Catalog" || h1[0].Tag != "h1" {
		t.Errorf("h1 = %+v", h1[0])
	}
	if h1[0].Attributes["id"] != "heading" || h1[0].Attributes["class"] != "page-title" {
		t.Errorf("h1 attributes = %v", h1[0].Attributes)
	}

	prices := result.Data[".price"]
	if len(prices) != 2 || prices[0].Text != "9.99" || prices[1].Text != "19.99" {
		t.Errorf("prices = %+v", prices)
	}

	links := result.Data["a"]
	if len(links) != 2 || links[0].Attributes["href"] != "/p/1" || links[0].Attributes["title"] != "first" {
		t.Errorf("links = %+v", links)
	}
	// 没写的属性不该出现
	if _, ok := links[1].Attributes["title"]; ok {
		t.Errorf("unexpected title on second link: %v", links[1].Attributes)
	}

	missing := result.Data[".missing"]
	if missing == nil || len(missing) != 0 {
		t.Errorf("missing selector should yield empty list, got %v", missing)
	}
}

func TestStaticExtractSendsUserAgent(t *testing.T) {
	var gotUA string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA = r.Header.Get("User-Agent")
		w.Write([]byte("<html><body><p>ok</p></body></html>"))
	}))
	defer srv.Close()

	f := NewStaticFetcher(5*time.Second, "webauto-test/1.0")
	if _, err := f.Extract(context.Background(), srv.URL, []string{"p"}); err != nil {
		t.Fatal(err)
	}
	if gotUA != "webauto-test/1.0" {
		t.Errorf("user-agent = %q", gotUA)
	}
}

func TestStaticExtractErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gone", http.StatusNotFound)
	}))
	defer srv.Close()

	f := NewStaticFetcher(5*time.Second, "")
	if _, err := f.Extract(context.Background(), srv.URL, []string{"p"}); err == nil {
		t.Error("404 accepted")
	}
}

func TestStaticExtractUnreachable(t *testing.T) {
	f := NewStaticFetcher(500*time.Millisecond, "")
	if _, err := f.Extract(context.Background(), "http://127.0.0.1:1", []string{"p"}); err == nil {
		t.Error("unreachable host accepted")
	}
}
