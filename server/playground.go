package server

import (
	"html/template"
	"net/http"
)

var playgroundTemplate = template.Must(template.New("playground").Parse(`<!DOCTYPE html>
<html>
<head>
	<meta charset="utf-8">
	<title>GraphiQL</title>
	<link rel="stylesheet" href="https://unpkg.com/graphiql@3/graphiql.min.css">
	<style>body { margin: 0; height: 100vh; } #graphiql { height: 100vh; }</style>
</head>
<body>
	<div id="graphiql"></div>
	<script crossorigin src="https://unpkg.com/react@18/umd/react.production.min.js"></script>
	<script crossorigin src="https://unpkg.com/react-dom@18/umd/react-dom.production.min.js"></script>
	<script crossorigin src="https://unpkg.com/graphiql@3/graphiql.min.js"></script>
	<script>
		const endpoint = {{.Endpoint}};
		const fetcher = GraphiQL.createFetcher({ url: endpoint });
		ReactDOM.createRoot(document.getElementById("graphiql")).render(
			React.createElement(GraphiQL, { fetcher, isHeadersEditorEnabled: true }),
		);
	</script>
</body>
</html>
`))

// playgroundHandler serves a GraphiQL page that talks to endpoint. Callers
// set the Authorization header from the page's headers editor.
func playgroundHandler(endpoint string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_ = playgroundTemplate.Execute(w, struct{ Endpoint string }{endpoint})
	}
}
