package domain

// USSDSession is one gateway callback. Text carries the whole input so far,
// with steps separated by '*'.
type USSDSession struct {
	SessionID   string `json:"sessionId"`
	ServiceCode string `json:"serviceCode"`
	PhoneNumber string `json:"phoneNumber"`
	Text        string `json:"text"`
}

// USSD wire prefixes: CON keeps the session open, END terminates it.
const (
	USSDContinue = "CON "
	USSDEnd      = "END "
)

const (
	USSDOptionSubscribe = "1"
	USSDOptionStatus    = "2"

	USSDDateLayout = "02-Jan-2006"

	USSDMsgError         = USSDEnd + "An error occurred. Please try again."
	USSDMsgSubscribed    = USSDEnd + "Subscription successful. Your cover is now active."
	USSDMsgInvalidChoice = USSDEnd + "Invalid selection."
)
