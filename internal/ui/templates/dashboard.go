package templates

import (
	"context"
	"html/template"
	"io"

	"github.com/a-h/templ"
)

const datastarScript = "https://cdn.jsdelivr.net/gh/starfederation/datastar@1.0.0-RC.5/bundles/datastar.js"

type dashboardPage struct {
	Title    string
	Subtitle string
	Script   string
}

var dashboardTemplate = template.Must(template.New("dashboard").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>{{.Title}}</title>
<script type="module" src="{{.Script}}"></script>
<style>
body { font-family: system-ui, sans-serif; margin: 0; background: #f5f6f8; color: #1f2933; }
header { padding: 1.5rem 2rem; background: #1f2933; color: #fff; }
header p { margin: .25rem 0 0; opacity: .7; }
main { display: grid; gap: 1.5rem; padding: 2rem; grid-template-columns: repeat(auto-fit, minmax(360px, 1fr)); }
section { background: #fff; border-radius: 8px; padding: 1rem 1.25rem; box-shadow: 0 1px 3px rgba(0,0,0,.08); }
.summary-grid { display: grid; grid-template-columns: repeat(auto-fit, minmax(120px, 1fr)); gap: 1rem; }
.stat .label { display: block; font-size: .8rem; text-transform: uppercase; opacity: .6; }
.stat .value { font-size: 1.4rem; font-weight: 600; }
.modern-table { width: 100%; border-collapse: collapse; }
.modern-table th, .modern-table td { text-align: left; padding: .4rem .5rem; border-bottom: 1px solid #e4e7eb; }
.error { color: #b42318; }
.loading { opacity: .6; }
</style>
</head>
<body data-signals="{summary: {}, regionsData: [], itemTypesData: []}" data-on-load="@get('/sse/refresh-all')">
<header>
<h1>{{.Title}}</h1>
<p>{{.Subtitle}}</p>
</header>
<main>
<section>
<h2>Summary</h2>
<div id="summary-content" class="loading">Loading summary...</div>
</section>
<section>
<h2>Revenue by Region <button data-on-click="@get('/sse/by-region')">Refresh</button></h2>
<div id="regions-content" class="loading">Loading regions...</div>
</section>
<section>
<h2>Revenue by Item Type <button data-on-click="@get('/sse/by-item-type')">Refresh</button></h2>
<div id="item-types-content" class="loading">Loading item types...</div>
</section>
</main>
</body>
</html>
`))

// Dashboard is the single page shell. Its panels are filled by the
// /sse/refresh-all stream once the page loads.
func Dashboard() templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		return dashboardTemplate.Execute(w, dashboardPage{
			Title:    "Sales Dashboard",
			Subtitle: "Revenue and profit across regions and product lines",
			Script:   datastarScript,
		})
	})
}
