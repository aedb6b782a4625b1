// Package models defines flow type definitions to avoid circular imports.
package models

// FlowType represents a specific voice task
type FlowType string

// StateType represents a specific state within a flow
type StateType string

// DataKey represents a key for storing session scratch data
type DataKey string

// Flow type constants.
const (
	FlowTypeCall       FlowType = "call"
	FlowTypeSMS        FlowType = "sms"
	FlowTypeLocation   FlowType = "location"
	FlowTypeNavigation FlowType = "navigation"
)

// State constants shared by several flows.
const (
	StateAskType  StateType = "ASK_TYPE"
	StateFinished StateType = "FINISHED"
)

// State constants for the call flow.
const (
	StateAskNumber      StateType = "ASK_NUMBER"
	StateConfirmNumber  StateType = "CONFIRM_NUMBER"
	StateAskContact     StateType = "ASK_CONTACT"
	StateConfirmContact StateType = "CONFIRM_CONTACT"
	StatePlacingCall    StateType = "PLACING_CALL"
)

// State constants for the SMS flow.
const (
	StateAskDestination            StateType = "ASK_DESTINATION"
	StateConfirmDestinationNumber  StateType = "CONFIRM_DESTINATION_NUMBER"
	StateConfirmDestinationContact StateType = "CONFIRM_DESTINATION_CONTACT"
	StateAskMessage                StateType = "ASK_MESSAGE"
	StateConfirmMessage            StateType = "CONFIRM_MESSAGE"
	StateSending                   StateType = "SENDING"
)

// State constants for the location flow. The send branch reuses
// StateConfirmNumber, StateConfirmContact and StateSending.
const (
	StateGetCurrent         StateType = "GET_CURRENT"
	StateAskDestinationType StateType = "ASK_DESTINATION_TYPE"
	StateGetNumber          StateType = "GET_NUMBER"
	StateGetContact         StateType = "GET_CONTACT"
)

// State constants for the navigation flow.
const (
	StateNoSavedDestinations StateType = "NO_SAVED_DESTINATIONS"
	StateChooseDestination   StateType = "CHOOSE_DESTINATION"
	StateConfirmDestination  StateType = "CONFIRM_DESTINATION"
	StateGetDirections       StateType = "GET_DIRECTIONS"
)

// Data key constants for session scratch fields.
const (
	DataKeyNumber          DataKey = "number"          // Normalized phone number spoken by the user
	DataKeyContact         DataKey = "contact"         // Contact name spoken by the user
	DataKeyResolvedNumber  DataKey = "resolvedNumber"  // Number found for DataKeyContact in the directory
	DataKeyDestination     DataKey = "destination"     // Raw destination text (number or contact name)
	DataKeyIsNumber        DataKey = "isNumber"        // "true" when the destination is a phone number
	DataKeyDestinationKind DataKey = "destinationKind" // "number" or "contact", chosen at ASK_TYPE
	DataKeyMessage         DataKey = "message"         // Message body to send
	DataKeyPlace           DataKey = "place"           // Canonical saved destination name
	DataKeySavedNames      DataKey = "savedNames"      // Spoken list of saved destination names
	DataKeyLatitude        DataKey = "latitude"        // Saved destination latitude
	DataKeyLongitude       DataKey = "longitude"       // Saved destination longitude
)
