package types

const (
	APIBase           = "/api"
	EndpointSendText  = "/sendText"
	EndpointSendImage = "/sendImage"
	EndpointSendFile  = "/sendFile"
	EndpointSendVoice = "/sendVoice"

	// Session endpoints
	EndpointSessions      = "/sessions"
	EndpointSessionStart  = "/start"
	EndpointSessionLogout = "/logout"
	EndpointAuthQR        = "/auth/qr"

	// Contact endpoints
	EndpointContactsAll   = "/contacts/all"
	EndpointContactExists = "/contacts/check-exists"

	// Group endpoints
	EndpointGroups = "/groups"

	// Event stream
	EndpointEvents = "/ws"

	EventSessionStatus = "session.status"
)

// Chat id suffixes addressed by WAHA
const (
	IndividualSuffix = "@c.us"
	GroupSuffix      = "@g.us"
)
