package dispatcher

import "strings"

// classifiers pairs a substring of a message's `type` URI with the
// MessageType it identifies. Every entry is checked; the last match in
// list order wins, so a more specific substring (e.g. "authenticate-refresh")
// is listed after the more general one it overlaps with ("authenticate").
var classifiers = []struct {
	substr string
	kind   MessageType
}{
	{"trustping", TypeTrustPing},
	{"messagepickup", TypeOther}, // placeholder, refined below by sub-type
	{"statusrequest", TypePickupStatusRequest},
	{"deliveryrequest", TypePickupDeliveryRequest},
	{"messagesreceived", TypePickupMessagesReceived},
	{"livedeliverychange", TypePickupLiveDeliveryChange},
	{"mediatoradministration", TypeMediatorAdministration},
	{"mediatoraccountmanagement", TypeMediatorAccountManage},
	{"mediatoraclmanagement", TypeMediatorACLManagement},
	{"authenticate", TypeAffinidiAuthenticate},
	{"authenticaterefresh", TypeAffinidiAuthRefresh},
	{"routing", TypeForwardRequest},
	{"forward", TypeForwardRequest},
	{"reportproblem", TypeProblemReport},
}

// normalize strips the separators DIDComm protocol URIs vary on (hyphens,
// underscores, slashes) so substring matching is robust to formatting.
func normalize(s string) string {
	s = strings.ToLower(s)
	replacer := strings.NewReplacer("-", "", "_", "", "/", "", ".", "")
	return replacer.Replace(s)
}

// Classify maps a raw `type` URI (or bare tag) onto the closed MessageType
// set. Unrecognized types classify as TypeOther.
func Classify(rawType string) MessageType {
	norm := normalize(rawType)
	best := TypeOther
	for _, c := range classifiers {
		if strings.Contains(norm, c.substr) && c.kind != TypeOther {
			best = c.kind
		}
	}
	return best
}
