package server

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"path"
	"path/filepath"

	"github.com/sirupsen/logrus"
)

// StaticHandler serves files under dir. Unknown paths get dir/index.html so
// client-side routes work, or the built-in chat page when there is no
// index.html. Only GET and HEAD are served.
func StaticHandler(dir string) http.HandlerFunc {
	log := logrus.WithFields(logrus.Fields{"component": "static", "path": dir})

	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet && r.Method != http.MethodHead {
			http.NotFound(w, r)
			return
		}

		clean := path.Clean("/" + r.URL.Path)
		if serveFile(w, r, filepath.Join(dir, filepath.FromSlash(clean)), log) {
			return
		}
		if serveFile(w, r, filepath.Join(dir, "index.html"), log) {
			return
		}
		ChatPageHandler(w, r)
	}
}

// serveFile writes the regular file at name and reports whether it did.
// Content type comes from the extension.
func serveFile(w http.ResponseWriter, r *http.Request, name string, log *logrus.Entry) bool {
	f, err := os.Open(name)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			log.WithError(err).WithField("file", name).Warn("Failed to open static file")
		}
		return false
	}
	defer func() { _ = f.Close() }()

	info, err := f.Stat()
	if err != nil || !info.Mode().IsRegular() {
		return false
	}
	http.ServeContent(w, r, info.Name(), info.ModTime(), f)
	return true
}

// ChatPageHandler serves a minimal chat client for deployments without a
// public directory.
func ChatPageHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if _, err := fmt.Fprint(w, chatPage); err != nil {
		logrus.WithError(err).Debug("Error writing chat page")
	}
}

const chatPage = `<!DOCTYPE html>
<html>
<head>
    <meta charset="utf-8">
    <title>chatdrop</title>
    <style>
        body { font-family: Arial, sans-serif; margin: 20px; }
        #messages {
            border: 1px solid #ccc;
            height: 360px;
            padding: 10px;
            overflow-y: scroll;
            margin: 10px 0;
            background-color: #f9f9f9;
        }
        input[type="text"] { width: 300px; padding: 5px; margin-right: 10px; }
        button {
            padding: 5px 15px;
            background-color: #007cba;
            color: white;
            border: none;
            cursor: pointer;
        }
        button:hover { background-color: #005a87; }
        .status { margin: 10px 0; padding: 5px; border-radius: 3px; }
        .connected { background-color: #d4edda; color: #155724; }
        .disconnected { background-color: #f8d7da; color: #721c24; }
        .system { color: gray; font-style: italic; }
    </style>
</head>
<body>
    <h1>chatdrop</h1>

    <div id="status" class="status disconnected">Disconnected</div>

    <div>
        <input type="text" id="messageInput" placeholder="Type a message..." disabled>
        <button id="sendButton" onclick="sendMessage()" disabled>Send</button>
    </div>
    <div style="margin-top: 10px">
        <input type="file" id="fileInput">
        <button onclick="uploadFile()">Upload</button>
    </div>

    <div id="messages"></div>

    <script>
        const messagesDiv = document.getElementById('messages');
        const messageInput = document.getElementById('messageInput');
        const sendButton = document.getElementById('sendButton');
        const statusDiv = document.getElementById('status');
        let ws = null;

        function addLine(text, cls) {
            const el = document.createElement('div');
            el.style.margin = '5px 0';
            if (cls) el.className = cls;
            el.textContent = text;
            messagesDiv.appendChild(el);
            messagesDiv.scrollTop = messagesDiv.scrollHeight;
        }

        function render(msg) {
            if (msg.file) {
                const el = document.createElement('div');
                const a = document.createElement('a');
                a.href = '/files/' + encodeURIComponent(msg.file);
                a.textContent = msg.file;
                el.appendChild(a);
                messagesDiv.appendChild(el);
                return;
            }
            const when = msg.ts ? new Date(msg.ts).toLocaleTimeString() + ' ' : '';
            addLine(when + (msg.text || JSON.stringify(msg)));
        }

        function updateStatus(connected) {
            statusDiv.textContent = connected ? 'Connected' : 'Disconnected';
            statusDiv.className = 'status ' + (connected ? 'connected' : 'disconnected');
            messageInput.disabled = !connected;
            sendButton.disabled = !connected;
        }

        function connect() {
            const scheme = location.protocol === 'https:' ? 'wss://' : 'ws://';
            ws = new WebSocket(scheme + location.host + '/ws');
            ws.onopen = () => updateStatus(true);
            ws.onmessage = (event) => {
                const msg = JSON.parse(event.data);
                if (msg.system && Array.isArray(msg.history)) {
                    msg.history.forEach(render);
                } else if (msg.system) {
                    addLine(msg.msg, 'system');
                } else {
                    render(msg);
                }
            };
            ws.onclose = () => {
                updateStatus(false);
                setTimeout(connect, 2000);
            };
        }

        function sendMessage() {
            const text = messageInput.value.trim();
            if (text && ws && ws.readyState === WebSocket.OPEN) {
                ws.send(JSON.stringify({ text: text }));
                messageInput.value = '';
            }
        }

        async function uploadFile() {
            const file = document.getElementById('fileInput').files[0];
            if (!file) return;
            const res = await fetch('/files/upload?name=' + encodeURIComponent(file.name), {
                method: 'POST',
                body: file,
            });
            if (!res.ok) {
                addLine('Upload failed: ' + await res.text(), 'system');
                return;
            }
            const body = await res.json();
            ws.send(JSON.stringify({ file: body.filename }));
        }

        messageInput.addEventListener('keypress', (e) => {
            if (e.key === 'Enter') sendMessage();
        });

        connect();
    </script>
</body>
</html>`
