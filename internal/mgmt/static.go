package mgmt

// indexHTML and scriptJS are the two static resources named in spec
// §4.G ("GET / (HTML UI), GET /script.js (JS helpers)"). Deliberately
// minimal: a single status page that polls get_info over /v1 every five
// seconds, not a full dashboard.
const indexHTML = `<!DOCTYPE html>
<html>
<head><title>supernode</title><script src="/script.js"></script></head>
<body>
<h1>supernode</h1>
<pre id="status">loading...</pre>
</body>
</html>
`

const scriptJS = `
async function refresh() {
  const info = await fetch('/v1', {
    method: 'POST',
    body: JSON.stringify({jsonrpc: '2.0', method: 'get_info'}),
  }).then(r => r.json());
  document.getElementById('status').textContent = JSON.stringify(info.result, null, 2);
}
refresh();
setInterval(refresh, 5000);
`
