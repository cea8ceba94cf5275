package abav1

import "strconv"

// CrfSearchBase builds the base argv for a crf-search run. Rules and
// overrides are layered on top by the rules engine.
func CrfSearchBase(inputPath string, minVmaf int, tempDir string, minCrf, maxCrf int) []string {
	return []string{
		SubcommandCrfSearch,
		"-i", inputPath,
		"--min-vmaf", strconv.Itoa(minVmaf),
		"--temp-dir", tempDir,
		"--min-crf", strconv.Itoa(minCrf),
		"--max-crf", strconv.Itoa(maxCrf),
	}
}

// EncodeBase builds the base argv for an encode run at the elected CRF.
func EncodeBase(crf float64, outputPath, inputPath string) []string {
	return []string{
		SubcommandEncode,
		"--crf", formatCRF(crf),
		"--output", outputPath,
		"--input", inputPath,
	}
}
