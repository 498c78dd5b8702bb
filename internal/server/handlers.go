// Package server exposes HTTP handlers, including WebSocket upgrades, health
// checks, engine stats, and the built-in test page.
package server

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
)

// WebSocketHandler handles WebSocket upgrade requests. It validates that the
// request uses the GET method, upgrades the HTTP connection, and hands the
// new Client to the hub, which registers it with the engine and starts its
// read/write pumps.
func (s *Server) WebSocketHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed. WebSocket endpoint only accepts GET requests.", http.StatusMethodNotAllowed)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("WebSocket upgrade failed", slog.Any("error", err))
		return
	}

	client := NewClient(s.baseCtx, conn, s.engine, s.cfg, s.logger, r.RemoteAddr)
	if err := s.hub.Register(s.baseCtx, client); err != nil {
		s.logger.Error("Failed to register client", slog.String("remoteAddr", r.RemoteAddr), slog.Any("error", err))
		_ = conn.Close()
	}
}

// HealthHandler provides a simple health check endpoint that returns server status.
// It responds with a plain text message indicating the server is running.
func HealthHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	_, _ = fmt.Fprintf(w, "Chatroom server is running!")
}

// StatsHandler reports the engine's connection and room counters as JSON.
func (s *Server) StatsHandler(w http.ResponseWriter, r *http.Request) {
	stats, err := s.engine.Stats(r.Context())
	if err != nil {
		s.logger.Warn("Stats unavailable", slog.Any("error", err))
		http.Error(w, "stats unavailable", http.StatusServiceUnavailable)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(stats); err != nil {
		s.logger.Warn("Error writing stats response", slog.Any("error", err))
	}
}

// TestPageHandler serves an HTML page for exercising the chat protocol by
// hand: register presence, join, send, delete and leave.
func TestPageHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/html")
	if _, err := fmt.Fprint(w, testPageHTML); err != nil {
		slog.Warn("Error writing HTML response", slog.Any("error", err))
	}
}

const testPageHTML = `<!DOCTYPE html>
<html>
<head>
    <title>Chatroom WebSocket Test</title>
    <style>
        body { font-family: Arial, sans-serif; margin: 20px; }
        #messages {
            border: 1px solid #ccc;
            height: 300px;
            padding: 10px;
            overflow-y: scroll;
            margin: 10px 0;
            background-color: #f9f9f9;
            font-family: monospace;
            font-size: 12px;
        }
        input[type="text"] { width: 220px; padding: 5px; margin-right: 10px; }
        button {
            padding: 5px 15px;
            background-color: #007cba;
            color: white;
            border: none;
            cursor: pointer;
            margin-right: 4px;
        }
        button:hover { background-color: #005a87; }
        button:disabled { background-color: #999; cursor: default; }
        .status { margin: 10px 0; padding: 5px; border-radius: 3px; }
        .connected { background-color: #d4edda; color: #155724; }
        .disconnected { background-color: #f8d7da; color: #721c24; }
        .row { margin: 6px 0; }
    </style>
</head>
<body>
    <h1>Chatroom WebSocket Test</h1>

    <div id="status" class="status disconnected">Disconnected</div>

    <div class="row">
        <input type="text" id="userInput" placeholder="User id">
        <button id="connectButton" onclick="toggleConnection()">Connect</button>
        <button class="live" onclick="emit('register-presence', {userId: userId()})" disabled>Register</button>
        <button class="live" onclick="emit('join-chat', {userId: userId()})" disabled>Join</button>
        <button class="live" onclick="emit('leave-chat', {userId: userId()})" disabled>Leave</button>
        <button class="live" onclick="emit('get-online-users')" disabled>Who is online</button>
    </div>
    <div class="row">
        <input type="text" id="messageInput" placeholder="Type a message..." disabled>
        <button class="live" onclick="sendMessage()" disabled>Send</button>
        <input type="text" id="deleteInput" placeholder="Message id" disabled>
        <button class="live" onclick="emit('delete-message', {messageId: deleteInput.value.trim()})" disabled>Delete</button>
        <button class="live" onclick="emit('clear-all-messages')" disabled>Clear all</button>
    </div>

    <div id="messages"></div>

    <script>
        let ws = null;
        const messagesDiv = document.getElementById('messages');
        const userInput = document.getElementById('userInput');
        const messageInput = document.getElementById('messageInput');
        const deleteInput = document.getElementById('deleteInput');
        const connectButton = document.getElementById('connectButton');
        const statusDiv = document.getElementById('status');

        function userId() {
            return userInput.value.trim();
        }

        function addLine(text, color) {
            const line = document.createElement('div');
            line.style.margin = '3px 0';
            line.style.color = color || 'gray';
            line.textContent = text;
            messagesDiv.appendChild(line);
            messagesDiv.scrollTop = messagesDiv.scrollHeight;
        }

        function updateStatus(connected) {
            statusDiv.textContent = connected ? 'Connected' : 'Disconnected';
            statusDiv.className = 'status ' + (connected ? 'connected' : 'disconnected');
            document.querySelectorAll('.live').forEach(b => b.disabled = !connected);
            messageInput.disabled = !connected;
            deleteInput.disabled = !connected;
            connectButton.textContent = connected ? 'Disconnect' : 'Connect';
        }

        function emit(event, data) {
            if (!ws || ws.readyState !== WebSocket.OPEN) {
                return;
            }
            const frame = JSON.stringify(data === undefined ? {event} : {event, data});
            ws.send(frame);
            addLine('> ' + frame, 'blue');
        }

        function connect() {
            const scheme = location.protocol === 'https:' ? 'wss://' : 'ws://';
            ws = new WebSocket(scheme + location.host + '/ws');

            ws.onopen = function() {
                addLine('Connected to chat server');
                updateStatus(true);
            };

            ws.onmessage = function(event) {
                addLine('< ' + event.data, 'green');
            };

            ws.onclose = function() {
                addLine('Connection closed');
                updateStatus(false);
                ws = null;
            };

            ws.onerror = function() {
                addLine('Connection error');
                updateStatus(false);
            };
        }

        function toggleConnection() {
            if (ws && ws.readyState === WebSocket.OPEN) {
                ws.close();
            } else {
                connect();
            }
        }

        function sendMessage() {
            const message = messageInput.value.trim();
            if (message) {
                emit('send-message', {message});
                messageInput.value = '';
            }
        }

        messageInput.addEventListener('keypress', function(e) {
            if (e.key === 'Enter') {
                sendMessage();
            }
        });
    </script>
</body>
</html>`
