package metrics

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/smallbiznis/hongbao/internal/events"
	"go.uber.org/fx"
)

type Metrics struct {
	packetsCreated  *prometheus.CounterVec
	claimsSettled   *prometheus.CounterVec
	claimsRejected  *prometheus.CounterVec
	packetsRefunded prometheus.Counter
	amountClaimed   prometheus.Counter
}

func New() *Metrics {
	return &Metrics{
		packetsCreated: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "hongbao_packets_created_total",
			Help: "Packets created, by split policy.",
		}, []string{"policy"}),
		claimsSettled: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "hongbao_claims_settled_total",
			Help: "Committed claims, by policy and share variant.",
		}, []string{"policy", "variant"}),
		claimsRejected: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "hongbao_claims_rejected_total",
			Help: "Rejected claim attempts, by reason.",
		}, []string{"reason"}),
		packetsRefunded: promauto.NewCounter(prometheus.CounterOpts{
			Name: "hongbao_packets_refunded_total",
			Help: "Expired packets refunded to their sender.",
		}),
		amountClaimed: promauto.NewCounter(prometheus.CounterOpts{
			Name: "hongbao_amount_claimed_total",
			Help: "Sum of positive claimed amounts, in minor units.",
		}),
	}
}

func (m *Metrics) RecordPacketCreated(policy string) {
	m.packetsCreated.WithLabelValues(policy).Inc()
}

func (m *Metrics) RecordClaimRejected(reason string) {
	m.claimsRejected.WithLabelValues(reason).Inc()
}

func subscribe(dispatcher *events.Dispatcher, m *Metrics) {
	dispatcher.SubscribeClaim(func(_ context.Context, ev events.ClaimSettled) {
		m.claimsSettled.WithLabelValues(string(ev.Packet.Policy), string(ev.Claim.VariantFlag)).Inc()
		if ev.Claim.Amount > 0 {
			m.amountClaimed.Add(float64(ev.Claim.Amount))
		}
	})
	dispatcher.SubscribeRefund(func(_ context.Context, _ events.PacketRefunded) {
		m.packetsRefunded.Inc()
	})
}

var Module = fx.Module("observability.metrics",
	fx.Provide(New),
	fx.Invoke(subscribe),
)
