package semconv

const (
	AttrReportID        = "rca.report.id"
	AttrStrategy        = "rca.strategy"
	AttrTargetNode      = "rca.target_node"
	AttrRootCause       = "rca.root_cause"
	AttrRootCauseMetric = "rca.root_cause.metric"
	AttrConfidence      = "rca.confidence"
	AttrMetric          = "rca.metric"
	AttrNode            = "rca.node"
	AttrMedian          = "rca.contribution.median"
	AttrIntervalLower   = "rca.contribution.lower"
	AttrIntervalUpper   = "rca.contribution.upper"
	AttrPercent         = "rca.contribution.percent"
	AttrSignificant     = "rca.contribution.significant"
	AttrFlaggedMetrics  = "rca.flagged_metrics"
	AttrDetectionMethod = "rca.detection.method"
	AttrMechanismPolicy = "rca.mechanism.policy"
	AttrNumResamples    = "rca.bootstrap.resamples"
	AttrSampleFraction  = "rca.bootstrap.sample_fraction"
	AttrEntityCount     = "rca.entities"
	AttrObservedChange  = "rca.observed_change"
	AttrFlaggedRows     = "rca.detection.flagged_rows"
	AttrErrorKind       = "rca.error.kind"
)
