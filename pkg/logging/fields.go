package logging

import "log/slog"

// Domain identifiers

func Actor(id string) slog.Attr {
	return slog.String("actor_id", id)
}

func Role(role string) slog.Attr {
	return slog.String("role", role)
}

func Peer(id string) slog.Attr {
	return slog.String("peer_id", id)
}

func Room(id string) slog.Attr {
	return slog.String("room_id", id)
}

func ClientMsg(id string) slog.Attr {
	return slog.String("client_msg_id", id)
}

func Event(name string) slog.Attr {
	return slog.String("event", name)
}

func CallPhase(phase string) slog.Attr {
	return slog.String("call_phase", phase)
}

func Attempt(n int) slog.Attr {
	return slog.Int("attempt", n)
}

// Request / tracing

func RequestID(id string) slog.Attr {
	return slog.String("request_id", id)
}

func TraceID(id string) slog.Attr {
	return slog.String("trace_id", id)
}

// Error handling

func Err(err error) slog.Attr {
	if err == nil {
		return slog.String("error", "")
	}
	return slog.String("error", err.Error())
}
