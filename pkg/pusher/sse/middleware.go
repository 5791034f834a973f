package sse

import (
	"net/http"

	"github.com/argus-wallet/argus/pkg/pusher/errors"
	"github.com/argus-wallet/argus/pkg/pusher/metrics"
)

type handlerFunc func(session *session, request *http.Request) error

func writeError(writer http.ResponseWriter, err error) {
	if httpErr, ok := err.(errors.HTTPError); ok {
		writer.WriteHeader(httpErr.Code)
		writer.Write([]byte(httpErr.Message))
		return
	}
	writer.WriteHeader(http.StatusInternalServerError)
	writer.Write([]byte(err.Error()))
}

// Stream turns handler into an SSE endpoint.
func Stream(handler handlerFunc) http.HandlerFunc {
	return func(writer http.ResponseWriter, request *http.Request) {
		_, ok := writer.(http.Flusher)
		if !ok {
			writeError(writer, errors.InternalServerError("streaming unsupported"))
			return
		}

		session := newSession()
		if err := handler(session, request); err != nil {
			writeError(writer, err)
			return
		}

		writer.Header().Set("Content-Type", "text/event-stream")
		writer.Header().Set("Cache-Control", "no-cache")
		writer.Header().Set("Connection", "keep-alive")

		metrics.OpenSseConnection()
		defer metrics.CloseSseConnection()

		// errors past this point mean the client went away
		_ = session.StreamEvents(request.Context(), writer)
	}
}
