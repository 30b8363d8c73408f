package extract

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const page = `<!doctype html>
<html>
<head>
  <title>  Graph   Databases </title>
  <meta name="description" content="A short survey of graph storage.">
  <style>body { color: red }</style>
</head>
<body>
  <nav>Home | About</nav>
  <h1>Graph databases</h1>
  <p>Nodes and
     edges.</p>
  <script>var tracking = 1;</script>
  <footer>copyright</footer>
</body>
</html>`

func TestHTML(t *testing.T) {
	fields, err := HTML([]byte(page))
	require.NoError(t, err)

	assert.Equal(t, "Graph Databases", fields.Title)
	assert.Equal(t, "A short survey of graph storage.", fields.Summary)
	assert.Equal(t, "Graph databases Nodes and edges.", fields.Body)
}

func TestHTMLOpenGraphDescription(t *testing.T) {
	fields, err := HTML([]byte(`<html><head><meta property="og:description" content="og text"></head><body>x</body></html>`))
	require.NoError(t, err)
	assert.Equal(t, "og text", fields.Summary)
	assert.Empty(t, fields.Title)
}

func TestHTMLFragment(t *testing.T) {
	fields, err := HTML([]byte("just some <b>bold</b> text"))
	require.NoError(t, err)
	assert.Equal(t, "just some bold text", fields.Body)
}

func TestHTMLTruncatesBody(t *testing.T) {
	long := strings.Repeat("é", MaxBodyBytes)
	fields, err := HTML([]byte("<body>" + long + "</body>"))
	require.NoError(t, err)

	assert.LessOrEqual(t, len(fields.Body), MaxBodyBytes)
	assert.True(t, utf8.ValidString(fields.Body))
}

func TestIsHTML(t *testing.T) {
	assert.True(t, IsHTML("text/html; charset=utf-8"))
	assert.True(t, IsHTML("TEXT/HTML"))
	assert.True(t, IsHTML("application/xhtml+xml"))
	assert.False(t, IsHTML("text/plain; charset=utf-8"))
	assert.False(t, IsHTML(""))
}
