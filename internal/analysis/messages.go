package analysis

// User-facing findings and recommendations. The prediction templates take
// the oriented confidence as a percentage.
const (
	FindingsPneumoniaFmt = "AI analysis indicates pneumonia with %.1f%% confidence. Abnormal lung patterns detected."
	FindingsNormalFmt    = "AI analysis shows normal lung patterns with %.1f%% confidence. No significant abnormalities detected."

	RecPneumonia = "Immediate medical attention recommended. Consider antibiotic treatment and follow-up imaging."
	RecNormal    = "Continue monitoring. Follow-up as clinically indicated."

	FindingsModelMissing = "AI model file not found on server"
	FindingsUnavailable  = "AI analysis system not available - missing dependencies"

	RecContactAdmin = "Please contact system administrator"
	RecTryDifferent = "Please try with a different image or contact support"
	RecTryAgain     = "Please try again or contact support"
)
