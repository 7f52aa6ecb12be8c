package source

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/hamed0406/proxyscore/internal/domain"
	"github.com/hamed0406/proxyscore/internal/repo"
	"github.com/hamed0406/proxyscore/internal/repo/memory"
)

func TestParseLine(t *testing.T) {
	cases := []struct {
		in   string
		want domain.Candidate
		ok   bool
	}{
		{"1.2.3.4:8080", domain.Candidate{IP: "1.2.3.4", Port: "8080"}, true},
		{"  5.6.7.8:3128  ", domain.Candidate{IP: "5.6.7.8", Port: "3128"}, true},
		{"[2001:db8::1]:80", domain.Candidate{IP: "2001:db8::1", Port: "80"}, true},
		{"9.9.9.9:80 HTTP US", domain.Candidate{IP: "9.9.9.9", Port: "80"}, true},
		{"1.2.3.4", domain.Candidate{IP: "1.2.3.4"}, true},
		{"# comment", domain.Candidate{}, false},
		{"", domain.Candidate{}, false},
	}
	for _, tc := range cases {
		got, ok := ParseLine(tc.in)
		assert.Equal(t, tc.ok, ok, tc.in)
		assert.Equal(t, tc.want, got, tc.in)
	}
}

func TestNormalize(t *testing.T) {
	in := []domain.Candidate{
		{IP: " 1.2.3.4", Port: "80 "},
		{IP: "1.2.3.4", Port: "80"},
		{IP: "1.2.3.4", Port: "080"},
		{IP: "1.2.3.4"},
		{IP: "", Port: "80"},
		{IP: "5.6.7.8", Port: "3128"},
	}
	got := Normalize(in, zap.NewNop())
	assert.Equal(t, []domain.Candidate{
		{IP: "1.2.3.4", Port: "80"},
		{IP: "1.2.3.4", Port: "080"},
		{IP: "5.6.7.8", Port: "3128"},
	}, got)
}

func TestTextList_Fetch(t *testing.T) {
	s := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("1.2.3.4:8080\n\n98.76.54.32:3128\n"))
	}))
	defer s.Close()

	got, err := TextList{URL: s.URL}.Fetch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []domain.Candidate{
		{IP: "1.2.3.4", Port: "8080"},
		{IP: "98.76.54.32", Port: "3128"},
	}, got)
}

func TestTextList_Non200(t *testing.T) {
	s := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusServiceUnavailable)
	}))
	defer s.Close()

	_, err := TextList{URL: s.URL}.Fetch(context.Background())
	assert.ErrorContains(t, err, "503")
}

func TestFile_Fetch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "proxies.txt")
	require.NoError(t, os.WriteFile(path, []byte("# seed\n10.0.0.1:80\n10.0.0.2:81\n"), 0o600))

	got, err := File{Path: path}.Fetch(context.Background())
	require.NoError(t, err)
	assert.Len(t, got, 2)

	_, err = File{Path: filepath.Join(t.TempDir(), "missing.txt")}.Fetch(context.Background())
	assert.Error(t, err)
}

const tablePage = `<html><body>
<table class="table">
<thead><tr><th>IP</th><th>PORT</th></tr></thead>
<tbody>
<tr><td>1.2.3.4</td><td> 8080 </td><td>HTTP</td></tr>
<tr><td>5.6.7.8</td><td>3128</td><td>HTTP</td></tr>
<tr><td></td><td>1</td></tr>
</tbody>
</table>
</body></html>`

func TestHTMLTable_Fetch(t *testing.T) {
	s := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("page") == "2" {
			http.NotFound(w, r)
			return
		}
		w.Write([]byte(tablePage))
	}))
	defer s.Close()

	src := NewHTMLTable("table", ExpandPages(s.URL+"/?page={page}", 2), zap.NewNop())
	src.Limiter = nil

	got, err := src.Fetch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []domain.Candidate{
		{IP: "1.2.3.4", Port: "8080"},
		{IP: "5.6.7.8", Port: "3128"},
	}, got)
}

func TestHTMLTable_AllPagesFail(t *testing.T) {
	s := httptest.NewServer(http.NotFoundHandler())
	defer s.Close()

	src := NewHTMLTable("table", []string{s.URL}, nil)
	_, err := src.Fetch(context.Background())
	assert.Error(t, err)
}

func TestExpandPages(t *testing.T) {
	assert.Equal(t, []string{"http://x/a"}, ExpandPages("http://x/a", 3))
	assert.Equal(t, []string{"http://x/1/", "http://x/2/"}, ExpandPages("http://x/{page}/", 2))
}

const scriptPage = `<html><head><script>
    const fpsList = [{"ip":"1.2.3.4","port":"8080","location":"x"},{"ip":"5.6.7.8","port":3128}];
    render(fpsList);
</script></head></html>`

func TestEmbeddedJSON_Extract(t *testing.T) {
	got, err := EmbeddedJSON{}.Extract([]byte(scriptPage))
	require.NoError(t, err)
	assert.Equal(t, []domain.Candidate{
		{IP: "1.2.3.4", Port: "8080"},
		{IP: "5.6.7.8", Port: "3128"},
	}, got)

	none, err := EmbeddedJSON{}.Extract([]byte("<html></html>"))
	require.NoError(t, err)
	assert.Nil(t, none)

	_, err = EmbeddedJSON{Var: "fpsList"}.Extract([]byte(`const fpsList = [{"ip":}];`))
	assert.Error(t, err)
}

func TestEmbeddedJSON_Fetch(t *testing.T) {
	s := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte(scriptPage))
	}))
	defer s.Close()

	got, err := EmbeddedJSON{Label: "kuai", Pages: []string{s.URL + "/free/1/", s.URL + "/free/2/"}}.Fetch(context.Background())
	require.NoError(t, err)
	assert.Len(t, got, 4)
	assert.Len(t, Normalize(got, nil), 2)
}

type failingSource struct{}

func (failingSource) Name() string { return "broken" }
func (failingSource) Fetch(context.Context) ([]domain.Candidate, error) {
	return nil, errors.New("upstream down")
}

func TestMulti_ContinuesPastFailures(t *testing.T) {
	m := Multi{Sources: []Source{
		failingSource{},
		Static{Candidates: []domain.Candidate{{IP: "1.2.3.4", Port: "80"}}},
	}}
	got, err := m.Fetch(context.Background())
	assert.ErrorContains(t, err, "upstream down")
	assert.Len(t, got, 1)
}

func TestStored_Fetch(t *testing.T) {
	ctx := context.Background()
	r := memory.New()
	require.NoError(t, r.Upsert(ctx, &domain.Proxy{IP: "10.0.0.1", Port: "80", SuccessRate: domain.Float(1)}))
	require.NoError(t, r.Upsert(ctx, &domain.Proxy{IP: "10.0.0.2", Port: "80", SuccessRate: domain.Float(0)}))

	all, err := Stored{Repo: r}.Fetch(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	alive, err := Stored{Repo: r, Filter: repo.Filter{Alive: true}}.Fetch(ctx)
	require.NoError(t, err)
	assert.Equal(t, []domain.Candidate{{IP: "10.0.0.1", Port: "80"}}, alive)
}

func TestJSONAPI_FetchPages(t *testing.T) {
	s := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Query().Get("page") {
		case "1":
			w.Write([]byte(`{"code":0,"data":{"list":[{"ip":"1.2.3.4","port":8080,"protocol":1},{"ip":"5.6.7.8","port":"3128"}]}}`))
		case "2":
			w.Write([]byte(`{"code":0,"data":{"list":[{"ip":"9.9.9.9","port":80}]}}`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer s.Close()

	src := NewJSONAPI("api", ExpandPages(s.URL+"/list?page={page}", 3), zap.NewNop())
	src.Limiter = nil

	got, err := src.Fetch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []domain.Candidate{
		{IP: "1.2.3.4", Port: "8080"},
		{IP: "5.6.7.8", Port: "3128"},
		{IP: "9.9.9.9", Port: "80"},
	}, got)
}

func TestJSONAPI_Decode(t *testing.T) {
	src := &JSONAPI{ListPath: "result.items"}
	got, err := src.Decode([]byte(`{"result":{"items":[{"ip":"1.2.3.4","port":1080}]}}`))
	require.NoError(t, err)
	assert.Equal(t, []domain.Candidate{{IP: "1.2.3.4", Port: "1080"}}, got)

	_, err = src.Decode([]byte(`{"result":{}}`))
	assert.ErrorContains(t, err, `missing key "items"`)

	_, err = (&JSONAPI{}).Decode([]byte(`{"data":{"list":{"ip":"1.2.3.4"}}}`))
	assert.Error(t, err)
}

func TestJSONAPI_AllPagesFail(t *testing.T) {
	s := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<html>maintenance</html>`))
	}))
	defer s.Close()

	src := NewJSONAPI("api", []string{s.URL}, nil)
	src.Limiter = nil
	_, err := src.Fetch(context.Background())
	assert.Error(t, err)
}
