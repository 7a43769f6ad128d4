package connmgr

import (
	"math"

	"github.com/dep2p/go-meshchat/pkg/types"
)

// ============================================================================
//                              准入过滤
// ============================================================================

// earthRadiusKm 地球平均半径
const earthRadiusKm = 6371.0

// FilterPeer 检查 PEX 候选是否符合本节点的偏好
//
// 规则依次为：
//   - 声明的年龄必须在 [AgeMin, AgeMax] 内
//   - 设置了性别偏好时，候选的性别必须与偏好有位重叠；未声明性别视为无重叠
//   - 候选声明了意图时，必须与期望意图有位重叠；未声明则不检查
//   - 启用地理过滤且双方都有坐标时，大圆距离不超过 MaxDistanceKm
func (m *Manager) FilterPeer(p types.PeerDTO) bool {
	if p.Age != nil && (*p.Age < m.cfg.AgeMin || *p.Age > m.cfg.AgeMax) {
		logger.Debug("年龄不符", "peer", p.PeerID.ShortString(), "age", *p.Age)
		return false
	}

	if m.cfg.DesiredSex != 0 {
		sex := 0
		if p.Sex != nil {
			sex = *p.Sex
		}
		if sex&m.cfg.DesiredSex == 0 {
			logger.Debug("性别不符", "peer", p.PeerID.ShortString())
			return false
		}
	}

	if p.Searching != nil && *p.Searching&m.cfg.DesiredSearching == 0 {
		logger.Debug("意图不符", "peer", p.PeerID.ShortString())
		return false
	}

	if m.cfg.GeoEnabled && !m.withinDistance(p) {
		logger.Debug("距离过远", "peer", p.PeerID.ShortString())
		return false
	}
	return true
}

// withinDistance 地理距离谓词，任一方缺少坐标时放行
func (m *Manager) withinDistance(p types.PeerDTO) bool {
	if !m.self.HasLocation() || !p.HasLocation() {
		return true
	}
	d := HaversineKm(*m.self.Latitude, *m.self.Longitude, *p.Latitude, *p.Longitude)
	return d <= m.cfg.MaxDistanceKm
}

// HaversineKm 返回两点之间的大圆距离（公里）
func HaversineKm(lat1, lon1, lat2, lon2 float64) float64 {
	rad := func(deg float64) float64 { return deg * math.Pi / 180 }

	dLat := rad(lat2 - lat1)
	dLon := rad(lon2 - lon1)
	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(rad(lat1))*math.Cos(rad(lat2))*math.Sin(dLon/2)*math.Sin(dLon/2)
	return 2 * earthRadiusKm * math.Asin(math.Sqrt(a))
}
