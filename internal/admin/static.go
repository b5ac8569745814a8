package admin

import "net/http"

const styleCSS = `body{margin:0;font:14px/1.45 system-ui,sans-serif;background:#f6f7f9;color:#1f2328}
header{display:flex;gap:16px;padding:10px 24px;background:#24292f}
header a{color:#f0f3f6;font-weight:600}
a{color:#0969da}
.container{max-width:1040px;margin:0 auto;padding:16px 24px}
table{width:100%;border-collapse:collapse;background:#fff}
th,td{padding:6px 10px;border:1px solid #d0d7de;vertical-align:top}
th{background:#eaeef2;text-align:left;font-weight:600}
.card{background:#fff;border:1px solid #d0d7de;border-radius:6px;padding:12px 16px;margin-bottom:16px}
.btn{padding:5px 12px;border:1px solid #d0d7de;border-radius:6px;background:#f6f8fa;cursor:pointer}
.state-active{color:#1a7f37;font-weight:600}
.state-configured{color:#9a6700}
.state-unknown,.failed{color:#cf222e}
.mono{font-family:ui-monospace,monospace;font-size:13px}
.small{color:#656d76;font-size:12px}`

func serveCSS(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/css; charset=utf-8")
	w.Header().Set("Cache-Control", "max-age=3600")
	_, _ = w.Write([]byte(styleCSS))
}
