package types

// Message type tags used by the Cloud API
const (
	MessageTypeText  = "text"
	MessageTypeImage = "image"
)

const (
	ObjectBusinessAccount   = "whatsapp_business_account"
	MessagingProduct        = "whatsapp"
	RecipientTypeIndividual = "individual"
	StatusRead              = "read"
)

// Graph API path templates, relative to {base}/{version}
const (
	EndpointMessages = "/%s/messages" // phone number id
	EndpointMedia    = "/%s/media"    // phone number id
	EndpointMediaID  = "/%s"          // media id
)

// Webhook subscription query parameters
const (
	HubModeParam        = "hub.mode"
	HubVerifyTokenParam = "hub.verify_token"
	HubChallengeParam   = "hub.challenge"
	HubModeSubscribe    = "subscribe"
)
