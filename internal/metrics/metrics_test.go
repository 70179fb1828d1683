// SAGE - Secure Agent Guarantee Engine
// Copyright (C) 2025 SAGE-X-project
//
// This file is part of SAGE.
//
// SAGE is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// SAGE is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with SAGE. If not, see <https://www.gnu.org/licenses/>.

package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetricsRegistration(t *testing.T) {
	if ReceivedBytes == nil || SentBytes == nil || DeletedBytes == nil {
		t.Fatal("message byte counters are nil")
	}
	if ReceivedCount == nil || SentCount == nil || DeletedCount == nil {
		t.Fatal("message count counters are nil")
	}
	if SessionsCreated == nil || SessionsSuccess == nil {
		t.Fatal("session counters are nil")
	}
	if WebsocketOpen == nil || WebsocketClose == nil {
		t.Fatal("websocket counters are nil")
	}
	if CryptoOperations == nil || CryptoErrors == nil {
		t.Fatal("crypto counters are nil")
	}
}

func TestMetricsIncrement(t *testing.T) {
	ReceivedBytes.Add(128)
	ReceivedCount.Inc()
	SentBytes.Add(64)
	SentCount.Inc()
	DeletedBytes.Add(64)
	DeletedCount.Inc()

	SessionsCreated.Inc()
	SessionsSuccess.Inc()
	WebsocketOpen.Inc()
	WebsocketClose.Inc()

	CryptoOperations.WithLabelValues("encrypt", "ed25519").Inc()
	CryptoOperations.WithLabelValues("decrypt", "x25519").Inc()

	if count := testutil.CollectAndCount(ReceivedBytes); count == 0 {
		t.Error("ReceivedBytes has no metrics collected")
	}
	if count := testutil.CollectAndCount(SessionsCreated); count == 0 {
		t.Error("SessionsCreated has no metrics collected")
	}
	if count := testutil.CollectAndCount(CryptoOperations); count == 0 {
		t.Error("CryptoOperations has no metrics collected")
	}
}

func TestNonceValidationLabels(t *testing.T) {
	NonceValidations.WithLabelValues("valid").Inc()
	NonceValidations.WithLabelValues("expired").Inc()
	ReplayAttacksDetected.Inc()

	if count := testutil.CollectAndCount(NonceValidations); count == 0 {
		t.Error("NonceValidations has no metrics collected")
	}
}
